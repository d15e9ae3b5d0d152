package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"kasa/internal/amqp"
	"kasa/internal/cache"
	"kasa/internal/core"
	"kasa/internal/storage"
)

var (
	// ErrValidation wraps input rejected at the service boundary.
	ErrValidation      = errors.New("validation failed")
	ErrItemNotFound    = errors.New("item not found")
	ErrInvalidItemKind = errors.New("invalid item kind")
)

// Item kinds accepted by AddItem and RemoveItem.
const (
	KindIncome       = "income"
	KindSubscription = "subscription"
	KindExpense      = "expense"
	KindInstallment  = "installment"
)

// Publisher announces ledger changes. *amqp.Client implements it.
type Publisher interface {
	PublishLedgerUpdated(ctx context.Context, msg *amqp.LedgerUpdatedMessage) error
}

// ItemInput is a single item submitted through a convenience endpoint.
// Mode and Count apply to installments only.
type ItemInput struct {
	Name   string
	Amount decimal.Decimal
	Notes  string
	Mode   string
	Count  int
}

// EditResult is what a month edit hands back to the client: the fresh
// composite, which is the baseline for the next edit, and the global changes.
type EditResult struct {
	Composite core.MonthlySnapshot `json:"composite"`
	Changes   core.ChangeSet       `json:"changes"`
}

// LedgerService runs the month view and edit cycle against a UserStore.
type LedgerService struct {
	store         storage.UserStore
	publisher     Publisher
	history       cache.Cache[[]core.MonthTotals]
	locks         *UserLocks
	now           func() time.Time
	persistOnView bool
	group         singleflight.Group
}

type Option func(*LedgerService)

// WithPublisher sends a ledger.updated event after every persisted change.
func WithPublisher(p Publisher) Option {
	return func(s *LedgerService) { s.publisher = p }
}

// WithHistoryCache caches History results per username.
func WithHistoryCache(c cache.Cache[[]core.MonthTotals]) Option {
	return func(s *LedgerService) { s.history = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

// WithPersistOnView controls whether viewing a month stores its baseline.
func WithPersistOnView(persist bool) Option {
	return func(s *LedgerService) { s.persistOnView = persist }
}

// WithLocks shares per-user locks with other services writing the same store.
func WithLocks(l *UserLocks) Option {
	return func(s *LedgerService) { s.locks = l }
}

func NewLedgerService(store storage.UserStore, opts ...Option) *LedgerService {
	s := &LedgerService{
		store:         store,
		locks:         NewUserLocks(),
		now:           time.Now,
		persistOnView: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record returns the stored record of username.
func (s *LedgerService) Record(ctx context.Context, username string) (core.UserRecord, error) {
	user, err := s.store.Load(ctx, username)
	if err != nil {
		return core.UserRecord{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// ViewMonth returns the composite of monthKey. A baseline for the month is
// stored when the composite differs from what is on disk, unless persisting
// on view is disabled.
func (s *LedgerService) ViewMonth(ctx context.Context, username, monthKey string) (core.MonthlySnapshot, error) {
	comp, _, err := s.assemble(ctx, username, monthKey, s.persistOnView, amqp.ReasonBaseline)
	return comp.Snapshot, err
}

// EnsureBaseline stores the composite of monthKey if it needs persisting
// and reports whether it wrote anything. It backs the month rollover.
func (s *LedgerService) EnsureBaseline(ctx context.Context, username, monthKey string) (bool, error) {
	_, wrote, err := s.assemble(ctx, username, monthKey, true, amqp.ReasonRollover)
	return wrote, err
}

func (s *LedgerService) assemble(ctx context.Context, username, monthKey string, persist bool, reason string) (core.Composite, bool, error) {
	if err := core.ValidateMonthKey(monthKey); err != nil {
		return core.Composite{}, false, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	unlock := s.locks.Lock(username)
	defer unlock()

	user, err := s.store.Load(ctx, username)
	if err != nil {
		return core.Composite{}, false, fmt.Errorf("load user: %w", err)
	}

	comp := core.AssembleComposite(user, monthKey, s.now())
	if !comp.NeedsPersist || !persist {
		return comp, false, nil
	}

	if user.Months == nil {
		user.Months = map[string]core.MonthlySnapshot{}
	}
	user.Months[monthKey] = comp.Snapshot.Clone()
	if err := s.store.Save(ctx, user); err != nil {
		return core.Composite{}, false, fmt.Errorf("save baseline: %w", err)
	}

	slog.DebugContext(ctx, "Stored month baseline",
		"component", "ledger",
		"username", username,
		"month_key", monthKey)
	s.afterWrite(ctx, username, monthKey, reason, core.ChangeSet{})
	return comp, true, nil
}

// EditMonth reconciles an edit of monthKey's composite. previous is the
// composite the client was shown; next is the edited version.
func (s *LedgerService) EditMonth(ctx context.Context, username, monthKey string, previous, next core.MonthlySnapshot) (EditResult, error) {
	if err := core.ValidateMonthKey(monthKey); err != nil {
		return EditResult{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if next.MonthKey == "" {
		next.MonthKey = monthKey
	}
	if err := next.Validate(); err != nil {
		return EditResult{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	unlock := s.locks.Lock(username)
	defer unlock()

	user, err := s.store.Load(ctx, username)
	if err != nil {
		return EditResult{}, fmt.Errorf("load user: %w", err)
	}
	return s.reconcileLocked(ctx, user, monthKey, previous, next)
}

// AddItem appends one new item to monthKey's composite and reconciles it.
// Incomes, subscriptions and installments become globals from monthKey on.
func (s *LedgerService) AddItem(ctx context.Context, username, monthKey, kind string, in ItemInput) (EditResult, string, error) {
	if err := core.ValidateMonthKey(monthKey); err != nil {
		return EditResult{}, "", fmt.Errorf("%w: %w", ErrValidation, err)
	}
	id := uuid.NewString()

	var add func(*core.MonthlySnapshot)
	switch kind {
	case KindIncome, KindSubscription, KindExpense:
		item := core.MoneyItem{ID: id, Name: in.Name, Amount: in.Amount, Notes: in.Notes}
		if err := item.Validate(); err != nil {
			return EditResult{}, "", fmt.Errorf("%w: %w", ErrValidation, err)
		}
		add = func(m *core.MonthlySnapshot) {
			switch kind {
			case KindIncome:
				m.Incomes = append(m.Incomes, item)
			case KindSubscription:
				m.Subscriptions = append(m.Subscriptions, item)
			default:
				m.PeriodExpenses = append(m.PeriodExpenses, item)
			}
		}
	case KindInstallment:
		plan, err := core.NewInstallmentPlan(in.Mode, in.Amount, in.Count)
		if err != nil {
			return EditResult{}, "", fmt.Errorf("%w: %w", ErrValidation, err)
		}
		remaining := plan.PlannedMonths()
		item := core.InstallmentItem{ID: id, Name: in.Name, Plan: plan, MonthsRemaining: &remaining, Notes: in.Notes}
		if err := item.Validate(); err != nil {
			return EditResult{}, "", fmt.Errorf("%w: %w", ErrValidation, err)
		}
		add = func(m *core.MonthlySnapshot) { m.Installments = append(m.Installments, item) }
	default:
		return EditResult{}, "", fmt.Errorf("%w: %q", ErrInvalidItemKind, kind)
	}

	res, err := s.editComposite(ctx, username, monthKey, func(m *core.MonthlySnapshot) error {
		add(m)
		return nil
	})
	if err != nil {
		return EditResult{}, "", err
	}
	return res, id, nil
}

// RemoveItem drops one item from monthKey's composite and reconciles it.
// Removing a global item removes it from monthKey onwards.
func (s *LedgerService) RemoveItem(ctx context.Context, username, monthKey, kind, id string) (EditResult, error) {
	if err := core.ValidateMonthKey(monthKey); err != nil {
		return EditResult{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	return s.editComposite(ctx, username, monthKey, func(m *core.MonthlySnapshot) error {
		var found bool
		switch kind {
		case KindIncome:
			m.Incomes, found = removeMoney(m.Incomes, id)
		case KindSubscription:
			m.Subscriptions, found = removeMoney(m.Subscriptions, id)
		case KindExpense:
			m.PeriodExpenses, found = removeMoney(m.PeriodExpenses, id)
		case KindInstallment:
			before := len(m.Installments)
			m.Installments = slices.DeleteFunc(m.Installments, func(it core.InstallmentItem) bool { return it.ID == id })
			found = len(m.Installments) != before
		default:
			return fmt.Errorf("%w: %q", ErrInvalidItemKind, kind)
		}
		if !found {
			return fmt.Errorf("%w: %s %s", ErrItemNotFound, kind, id)
		}
		return nil
	})
}

func removeMoney(items []core.MoneyItem, id string) ([]core.MoneyItem, bool) {
	before := len(items)
	items = slices.DeleteFunc(items, func(it core.MoneyItem) bool { return it.ID == id })
	return items, len(items) != before
}

// editComposite applies mutate to the current composite of monthKey and
// reconciles the result, all under the user's lock.
func (s *LedgerService) editComposite(ctx context.Context, username, monthKey string, mutate func(*core.MonthlySnapshot) error) (EditResult, error) {
	unlock := s.locks.Lock(username)
	defer unlock()

	user, err := s.store.Load(ctx, username)
	if err != nil {
		return EditResult{}, fmt.Errorf("load user: %w", err)
	}

	previous := core.AssembleComposite(user, monthKey, s.now()).Snapshot
	next := previous.Clone()
	if err := mutate(&next); err != nil {
		return EditResult{}, err
	}
	return s.reconcileLocked(ctx, user, monthKey, previous, next)
}

func (s *LedgerService) reconcileLocked(ctx context.Context, user core.UserRecord, monthKey string, previous, next core.MonthlySnapshot) (EditResult, error) {
	rec, err := core.Reconcile(previous, next, user, monthKey, s.now())
	if err != nil {
		return EditResult{}, err
	}

	updated := rec.Apply(user)
	if err := s.store.Save(ctx, updated); err != nil {
		return EditResult{}, fmt.Errorf("save user: %w", err)
	}

	s.afterWrite(ctx, user.Username, monthKey, amqp.ReasonEdit, rec.Changes)
	return EditResult{Composite: rec.Composite, Changes: rec.Changes}, nil
}

// afterWrite drops cached history and publishes the change. Neither step
// fails the request: the record is already saved.
func (s *LedgerService) afterWrite(ctx context.Context, username, monthKey, reason string, changes core.ChangeSet) {
	s.InvalidateHistory(ctx, username)

	if s.publisher == nil {
		return
	}
	msg := amqp.NewLedgerUpdatedMessage(username, monthKey, reason, changes)
	if err := s.publisher.PublishLedgerUpdated(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger update",
			"component", "ledger",
			"username", username,
			"month_key", monthKey,
			"error", err)
	}
}

// InvalidateHistory drops the cached history of username.
func (s *LedgerService) InvalidateHistory(ctx context.Context, username string) {
	if s.history != nil {
		s.history.Delete(ctx, historyKey(username))
	}
}

func historyKey(username string) string { return "history:" + username }

// History returns month totals newest first. The current month is included
// even before its baseline is stored. Concurrent calls for the same user
// share one computation.
func (s *LedgerService) History(ctx context.Context, username string) ([]core.MonthTotals, error) {
	key := historyKey(username)
	if s.history != nil {
		if totals, ok := s.history.Get(ctx, key); ok {
			return totals, nil
		}
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		// Writers invalidate under this lock, so totals cached here can
		// never predate a save that already dropped the entry.
		unlock := s.locks.Lock(username)
		defer unlock()

		user, err := s.store.Load(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("load user: %w", err)
		}
		current := core.CurrentMonthKey(s.now())
		var overlays []core.MonthlySnapshot
		if _, stored := user.Months[current]; !stored {
			overlays = append(overlays, core.AssembleComposite(user, current, s.now()).Snapshot)
		}
		totals := core.History(user, overlays...)
		if s.history != nil {
			s.history.Set(ctx, key, totals)
		}
		return totals, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]core.MonthTotals), nil
}

// AvailableMonths lists the stored months plus selected, ascending.
func (s *LedgerService) AvailableMonths(ctx context.Context, username, selected string) ([]string, error) {
	if selected != "" {
		if err := core.ValidateMonthKey(selected); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	user, err := s.store.Load(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return core.AvailableMonths(user, selected), nil
}

// Backfill rebuilds missing global lists of username from its months.
func (s *LedgerService) Backfill(ctx context.Context, username string) (bool, error) {
	unlock := s.locks.Lock(username)
	defer unlock()

	user, err := s.store.Load(ctx, username)
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}
	filled, changed := core.BackfillGlobals(user)
	if !changed {
		return false, nil
	}
	if err := s.store.Save(ctx, filled); err != nil {
		return false, fmt.Errorf("save user: %w", err)
	}
	s.InvalidateHistory(ctx, username)
	return true, nil
}
