package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"kasa/internal/amqp"
	"kasa/internal/auth"
	"kasa/internal/cli"
	apphttp "kasa/internal/http"
	"kasa/internal/log"
	"kasa/internal/services"
	"kasa/internal/storage"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	cfg, logger := cli.MustLoadConfig(log.ComponentApp)

	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required to run the API server")
		os.Exit(1)
	}

	ctx := context.Background()

	backendResult, err := cli.OpenStore(ctx, logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize storage", log.FieldError, err, log.FieldBackend, cfg.DataBackend)
		os.Exit(1)
	}
	store := backendResult.Store

	historyCache, stopCache := cli.NewHistoryCache(ctx, logger, cfg)

	locks := services.NewUserLocks()
	opts := []services.Option{
		services.WithLocks(locks),
		services.WithHistoryCache(historyCache),
		services.WithPersistOnView(cfg.PersistOnView),
	}

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without ledger events", log.FieldError, err)
			amqpClient = nil
		} else {
			opts = append(opts, services.WithPublisher(amqpClient))
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("AMQP disabled - ledger events will not be published")
	}

	ledger := services.NewLedgerService(store, opts...)
	authSvc := services.NewAuthService(store, locks)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)

	checks := map[string]apphttp.ReadinessCheck{
		"store": storeCheck(store),
	}

	srv, err := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Checks:             checks,
		Logger:             logger,
	}, ledger, authSvc, tokens)
	if err != nil {
		logger.Error("Failed to configure HTTP server", log.FieldError, err)
		os.Exit(1)
	}

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	})

	logger.Info("Starting kasa server",
		"port", cfg.Port,
		log.FieldBackend, cfg.DataBackend,
		"persist_on_view", cfg.PersistOnView)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-shutdownCtx.Done()
	<-done

	stopCache()
	if amqpClient != nil {
		if err := amqpClient.Close(); err != nil {
			logger.Warn("Failed to close AMQP client", log.FieldError, err)
		}
	}
	if err := backendResult.Cleanup(); err != nil {
		logger.Warn("Failed to close storage", log.FieldError, err)
	}
	logger.Info("Server stopped gracefully")
}

// storeCheck pings stores that support it and lists users otherwise.
func storeCheck(store storage.UserStore) apphttp.ReadinessCheck {
	if p, ok := store.(pinger); ok {
		return p.Ping
	}
	return func(ctx context.Context) error {
		_, err := store.List(ctx)
		return err
	}
}
