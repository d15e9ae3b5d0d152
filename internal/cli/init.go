// Package cli provides common initialization shared by cmd/kasa,
// cmd/kasa-worker and cmd/kasactl.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kasa/internal/backend"
	"kasa/internal/cache"
	"kasa/internal/config"
	"kasa/internal/core"
	"kasa/internal/log"
)

const historyCacheSize = 1000

// SetupLogger builds the root logger from cfg and sets it as the default.
func SetupLogger(cfg *config.Config, component string) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: component,
		Output:    os.Stdout,
	})
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadConfig loads and validates the configuration. The config is returned
// even when invalid so the caller can still build a logger to report it.
func LoadConfig() (*config.Config, error) {
	cfg := config.Load()
	return cfg, cfg.Validate()
}

// MustLoadConfig loads .env, the configuration and the root logger, and
// exits the process when the configuration is invalid.
func MustLoadConfig(component string) (*config.Config, *log.Logger) {
	LoadEnvFile()
	cfg, err := LoadConfig()
	logger := SetupLogger(cfg, component)
	if err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg, logger
}

// OpenStore creates the user store selected by DATA_BACKEND.
func OpenStore(ctx context.Context, logger *log.Logger, cfg *config.Config) (*backend.BackendResult, error) {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	factory := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Slog())
	result, err := factory.CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", backendCfg.Type, err)
	}
	return result, nil
}

// NewHistoryCache returns a Redis-backed history cache when REDIS_URL is
// set and reachable, and an in-process LRU otherwise. The returned stop
// function releases whichever was created.
func NewHistoryCache(ctx context.Context, logger *log.Logger, cfg *config.Config) (cache.Cache[[]core.MonthTotals], func()) {
	cacheLogger := logger.WithComponent(log.ComponentCache).Slog()

	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err == nil {
			cacheLogger.Info("Using Redis history cache", "ttl", cfg.CacheTTL)
			return cache.NewRedisCache[[]core.MonthTotals](client, "kasa", cfg.CacheTTL, cacheLogger),
				func() { _ = client.Close() }
		}
		cacheLogger.Warn("Redis unavailable, falling back to in-process cache", log.FieldError, err)
	}

	lru := cache.NewLRUCache[[]core.MonthTotals](historyCacheSize, cfg.CacheTTL)
	manager := cache.NewManager(cacheLogger)
	manager.Register(lru)
	manager.StartCleanup(cfg.CacheTTL)
	cacheLogger.Info("Using in-process history cache", "max_entries", historyCacheSize, "ttl", cfg.CacheTTL)
	return lru, manager.Stop
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM. After
// the signal, cleanup runs with a context bounded by timeout and done is
// closed once it returns.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-ctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
			return
		}
		logger.Info("Shutdown complete")
	}()

	return ctx, done
}
