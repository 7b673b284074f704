// Command memqd runs the memq broker: an in-memory publish/subscribe server
// reachable over a line-oriented TCP/JSON protocol.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/adred-codev/memq/internal/broker"
	"github.com/adred-codev/memq/internal/config"
	"github.com/adred-codev/memq/internal/logging"
	"github.com/adred-codev/memq/internal/metrics"
	"github.com/adred-codev/memq/internal/transport"
)

const (
	defaultPort      = 7000
	defaultCacheSize = 100
)

func main() {
	port, cacheSize, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if len(os.Args) > 1 {
		cfg.Server.Port = port
	}
	if len(os.Args) > 2 {
		cfg.Broker.CacheSize = cacheSize
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	events := logging.NewEvents(logger)
	reg := metrics.NewRegistry()

	b := broker.New(broker.Config{
		CacheSize:       cfg.Broker.CacheSize,
		FanoutWorkers:   cfg.Broker.FanoutWorkers,
		FanoutThreshold: cfg.Broker.FanoutParallelThreshold,
		Metrics:         reg,
		Events:          events,
	})
	defer b.Close()

	server := transport.NewServer(cfg, events, b, reg)
	if err := server.Start(); err != nil {
		logger.Fatal("transport start failed", zap.Error(err))
	}
	logger.Info("memqd listening",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Int("cache_size", cfg.Broker.CacheSize),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sampleCtx, cancelSample := context.WithCancel(context.Background())
	defer cancelSample()
	go reg.RunProcessSampler(sampleCtx, 15*time.Second)

	httpErrCh := make(chan error, 1)
	if cfg.Metrics.Enabled {
		go func() {
			httpErrCh <- runMetricsServer(ctx, cfg, reg, logger)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("metrics http server error", zap.Error(err))
		}
		stop()
	}

	server.ServeUntil(ctx)
	logger.Info("transport stopped")
}

// parseArgs implements the <program> [<port> [<cache_size>]] contract of
// SPEC_FULL §6: zero, one, or two positional arguments are accepted; any
// other argument count is an error the caller exits on with status 1.
func parseArgs(args []string) (port, cacheSize int, err error) {
	switch len(args) {
	case 0:
		return defaultPort, defaultCacheSize, nil
	case 1:
		p, err := strconv.Atoi(args[0])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid port %q: %w", args[0], err)
		}
		return p, defaultCacheSize, nil
	case 2:
		p, err := strconv.Atoi(args[0])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid port %q: %w", args[0], err)
		}
		c, err := strconv.Atoi(args[1])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid cache_size %q: %w", args[1], err)
		}
		return p, c, nil
	default:
		return 0, 0, fmt.Errorf("usage: %s [<port> [<cache_size>]]", os.Args[0])
	}
}

func runMetricsServer(ctx context.Context, cfg config.Config, reg *metrics.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	mux.Handle("/metrics", reg.Handler())

	httpServer := &http.Server{
		Addr:         cfg.Metrics.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics http server starting", zap.String("addr", cfg.Metrics.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics http server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
