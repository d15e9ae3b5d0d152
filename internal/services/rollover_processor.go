package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kasa/internal/core"
	"kasa/internal/storage"
)

// RolloverProcessorConfig holds configuration for the rollover processor
type RolloverProcessorConfig struct {
	// Interval is how often every user's current month is checked (default: 1h)
	Interval time.Duration
}

// DefaultRolloverProcessorConfig returns sensible defaults
func DefaultRolloverProcessorConfig() RolloverProcessorConfig {
	return RolloverProcessorConfig{Interval: time.Hour}
}

// RolloverProcessor stores the current month's baseline for every user, so
// a new month exists on disk even before anyone opens it.
type RolloverProcessor struct {
	store  storage.UserStore
	ledger *LedgerService
	config RolloverProcessorConfig
	now    func() time.Time

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewRolloverProcessor(store storage.UserStore, ledger *LedgerService, config RolloverProcessorConfig) *RolloverProcessor {
	return &RolloverProcessor{
		store:  store,
		ledger: ledger,
		config: config,
		now:    time.Now,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *RolloverProcessor) Start(ctx context.Context) error {
	if p.store == nil || p.ledger == nil {
		return fmt.Errorf("rollover processor not properly initialized")
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("rollover processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Rollover processor started", "component", "rollover", "interval", p.config.Interval)
	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *RolloverProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Rollover processor stopped gracefully", "component", "rollover")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Rollover processor stop timed out", "component", "rollover")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running
func (p *RolloverProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *RolloverProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	// Process immediately on startup
	p.runAndLog(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runAndLog(ctx)
		}
	}
}

func (p *RolloverProcessor) runAndLog(ctx context.Context) {
	if _, err := p.RunOnce(ctx); err != nil {
		slog.ErrorContext(ctx, "Rollover run failed", "component", "rollover", "error", err)
	}
}

// RunOnce stores the current month's baseline for every user that lacks
// one and returns how many records were written. A failing user is logged
// and skipped.
func (p *RolloverProcessor) RunOnce(ctx context.Context) (int, error) {
	usernames, err := p.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	monthKey := core.CurrentMonthKey(p.now())
	written := 0
	for _, username := range usernames {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		wrote, err := p.ledger.EnsureBaseline(ctx, username, monthKey)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to store month baseline",
				"component", "rollover",
				"username", username,
				"month_key", monthKey,
				"error", err)
			continue
		}
		if wrote {
			written++
		}
	}

	slog.InfoContext(ctx, "Rollover complete",
		"component", "rollover",
		"month_key", monthKey,
		"users", len(usernames),
		"written", written)
	return written, nil
}
