// Package logging builds the process's zap logger and a thin set of
// domain-specific audit events on top of it.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/adred-codev/memq/internal/config"
)

// New builds a zap logger based on configuration settings.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zap.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}
	errOutputPaths := cfg.ErrorOutputPaths
	if len(errOutputPaths) == 0 {
		errOutputPaths = []string{"stderr"}
	}

	var sampling *zap.SamplingConfig
	if cfg.SamplingInitial > 0 || cfg.SamplingThereafter > 0 {
		sampling = &zap.SamplingConfig{
			Initial:    cfg.SamplingInitial,
			Thereafter: cfg.SamplingThereafter,
		}
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Sampling:         sampling,
		Encoding:         "json",
		EncoderConfig:    eventEncoderConfig(),
		OutputPaths:      outputPaths,
		ErrorOutputPaths: errOutputPaths,
	}

	return zapCfg.Build()
}

// eventEncoderConfig is shared between New and any direct zaptest/zap.Config
// construction in tests: every memqd log line carries the same key names so
// log aggregation queries (by connection_id, topic, reason) stay stable
// regardless of which code path built the logger.
func eventEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}
