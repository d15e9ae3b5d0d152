package main

import (
	"context"
	"errors"
	"os"
	"time"

	"kasa/internal/amqp"
	"kasa/internal/cli"
	"kasa/internal/log"
	"kasa/internal/services"
	"kasa/internal/sheets"
	gsheet "kasa/internal/sheets/google"
	"kasa/internal/worker"
)

func main() {
	cfg, logger := cli.MustLoadConfig(log.ComponentWorker)
	logger.Info("Starting kasa-worker")

	ctx := context.Background()

	backendResult, err := cli.OpenStore(ctx, logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize storage", log.FieldError, err, log.FieldBackend, cfg.DataBackend)
		os.Exit(1)
	}
	store := backendResult.Store

	historyCache, stopCache := cli.NewHistoryCache(ctx, logger, cfg)

	opts := []services.Option{services.WithHistoryCache(historyCache)}

	// Rollover baselines are announced like any other write so the export
	// follows the new month.
	var publisher *amqp.Client
	if cfg.AMQPURL != "" {
		publisher, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP publisher", log.FieldError, err)
			publisher = nil
		} else {
			opts = append(opts, services.WithPublisher(publisher))
		}
	}
	ledger := services.NewLedgerService(store, opts...)

	var summaries sheets.SummaryWriter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.New(ctx, gsheet.Options{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
			SheetPrefix:     cfg.SummarySheetPrefix,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
			os.Exit(1)
		}
		summaries = client
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	ledgerWorker := worker.NewLedgerWorker(ledger, store, summaries, 4)
	rollover := services.NewRolloverProcessor(store, ledger, services.RolloverProcessorConfig{
		Interval: cfg.RolloverInterval,
	})

	var consumer *amqp.Client
	runCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		logger.Info("Shutting down worker...")
		if err := rollover.Stop(ctx); err != nil {
			logger.Warn("Rollover processor did not stop cleanly", log.FieldError, err)
		}
	})

	if _, _, err := ledgerWorker.StartupExport(runCtx); err != nil {
		logger.Error("Startup export failed", log.FieldError, err)
	}

	if err := rollover.Start(runCtx); err != nil {
		logger.Error("Failed to start rollover processor", log.FieldError, err)
		os.Exit(1)
	}

	if cfg.AMQPURL != "" {
		consumer, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP consumer", log.FieldError, err)
		} else {
			go func() {
				err := consumer.ConsumeLedgerUpdates(runCtx, ledgerWorker.HandleLedgerUpdated)
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("Message consumption failed", log.FieldError, err)
				}
			}()
		}
	} else {
		logger.Info("AMQP disabled - only the rollover ticker runs")
	}

	<-runCtx.Done()
	<-done

	for _, c := range []*amqp.Client{consumer, publisher} {
		if c != nil {
			_ = c.Close()
		}
	}
	stopCache()
	if err := backendResult.Cleanup(); err != nil {
		logger.Warn("Failed to close storage", log.FieldError, err)
	}
	logger.Info("Worker shutdown complete")
}
