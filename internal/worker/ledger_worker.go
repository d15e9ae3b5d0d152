package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"kasa/internal/amqp"
	"kasa/internal/core"
	"kasa/internal/sheets"
	"kasa/internal/storage"
)

// Ledger is the part of services.LedgerService the worker needs.
type Ledger interface {
	History(ctx context.Context, username string) ([]core.MonthTotals, error)
	InvalidateHistory(ctx context.Context, username string)
}

// UserLister lists stored usernames.
type UserLister interface {
	List(ctx context.Context) ([]string, error)
}

// LedgerWorker reacts to ledger.updated events: it drops the user's cached
// history and re-exports the summary when a SummaryWriter is configured.
type LedgerWorker struct {
	ledger      Ledger
	users       UserLister
	summaries   sheets.SummaryWriter
	concurrency int
}

func NewLedgerWorker(ledger Ledger, users UserLister, summaries sheets.SummaryWriter, concurrency int) *LedgerWorker {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &LedgerWorker{
		ledger:      ledger,
		users:       users,
		summaries:   summaries,
		concurrency: concurrency,
	}
}

// HandleLedgerUpdated processes a single ledger update message from AMQP
func (w *LedgerWorker) HandleLedgerUpdated(ctx context.Context, msg *amqp.LedgerUpdatedMessage) error {
	if msg.Username == "" {
		slog.WarnContext(ctx, "Ignoring ledger update without username", "component", "worker")
		return nil
	}

	slog.InfoContext(ctx, "Processing ledger update",
		"component", "worker",
		"username", msg.Username,
		"month_key", msg.MonthKey,
		"reason", msg.Reason)

	w.ledger.InvalidateHistory(ctx, msg.Username)

	if err := w.export(ctx, msg.Username); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// User deleted after the event was published.
			slog.WarnContext(ctx, "Skipping export for missing user", "component", "worker", "username", msg.Username)
			return nil
		}
		return err
	}
	return nil
}

func (w *LedgerWorker) export(ctx context.Context, username string) error {
	if w.summaries == nil {
		return nil
	}
	totals, err := w.ledger.History(ctx, username)
	if err != nil {
		return fmt.Errorf("compute history: %w", err)
	}
	if err := w.summaries.WriteSummary(ctx, username, totals); err != nil {
		return fmt.Errorf("export summary: %w", err)
	}
	return nil
}

// StartupExport re-exports every user's summary. It recovers exports missed
// while the worker was down. Failures are logged and counted.
func (w *LedgerWorker) StartupExport(ctx context.Context) (exported, failed int, err error) {
	if w.summaries == nil {
		slog.InfoContext(ctx, "No summary writer configured, skipping startup export", "component", "worker")
		return 0, 0, nil
	}

	usernames, err := w.users.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list users for startup export: %w", err)
	}

	var ok, ko atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, username := range usernames {
		g.Go(func() error {
			if err := w.export(gctx, username); err != nil {
				slog.ErrorContext(gctx, "Startup export failed",
					"component", "worker", "username", username, "error", err)
				ko.Add(1)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(ok.Load()), int(ko.Load()), err
	}

	slog.InfoContext(ctx, "Startup export complete",
		"component", "worker",
		"exported", ok.Load(),
		"failed", ko.Load())
	return int(ok.Load()), int(ko.Load()), nil
}
