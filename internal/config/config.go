// Package config loads memqd's runtime configuration the way the rest of
// this corpus does: viper-backed defaults overridable by environment
// variables and an optional config file, plus a .env convenience load for
// local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration for memqd.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Broker  BrokerConfig  `mapstructure:"broker"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains network-level settings for the TCP listener.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	MaxConnections int           `mapstructure:"max_connections"`
	AcceptRatePS   float64       `mapstructure:"accept_rate_per_sec"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
}

// BrokerConfig controls the topic registry, replay cache, and fan-out.
type BrokerConfig struct {
	CacheSize               int `mapstructure:"cache_size"`
	SendQueueSize           int `mapstructure:"send_queue_size"`
	FanoutWorkers           int `mapstructure:"fanout_workers"`
	FanoutParallelThreshold int `mapstructure:"fanout_parallel_threshold"`
}

// MetricsConfig controls the Prometheus/diagnostics HTTP endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig controls zap logger level, encoding, and output routing.
type LoggingConfig struct {
	Level              string   `mapstructure:"level"`
	Development        bool     `mapstructure:"development"`
	OutputPaths        []string `mapstructure:"output_paths"`
	ErrorOutputPaths   []string `mapstructure:"error_output_paths"`
	SamplingInitial    int      `mapstructure:"sampling_initial"`
	SamplingThereafter int      `mapstructure:"sampling_thereafter"`
}

// Load reads configuration from environment variables (prefix MEMQ_) and an
// optional memq.yaml/memq.json config file, falling back to the defaults
// below. It first attempts to load a .env file; a missing or unreadable
// .env file is ignored, not reported.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 7000)
	v.SetDefault("server.max_connections", 10000)
	v.SetDefault("server.accept_rate_per_sec", 500.0)
	v.SetDefault("server.idle_timeout", 0)

	v.SetDefault("broker.cache_size", 100)
	v.SetDefault("broker.send_queue_size", 256)
	v.SetDefault("broker.fanout_workers", 0)
	v.SetDefault("broker.fanout_parallel_threshold", 64)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9095")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
	v.SetDefault("logging.sampling_initial", 100)
	v.SetDefault("logging.sampling_thereafter", 100)

	v.SetConfigName("memq")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("MEMQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.Broker.CacheSize < 0 {
		return Config{}, fmt.Errorf("broker.cache_size must be >= 0, got %d", cfg.Broker.CacheSize)
	}
	if cfg.Broker.SendQueueSize <= 0 {
		cfg.Broker.SendQueueSize = 256
	}

	return cfg, nil
}
