package memory

import (
	"context"
	"slices"
	"sync"

	"kasa/internal/core"
	"kasa/internal/sheets"
)

// Store keeps exported summaries in memory, for local runs and tests.
type Store struct {
	mu        sync.Mutex
	summaries map[string][]core.MonthTotals
	writes    int
}

var _ sheets.SummaryWriter = (*Store)(nil)

func New() *Store {
	return &Store{summaries: make(map[string][]core.MonthTotals)}
}

// WriteSummary replaces the stored summary of username.
func (s *Store) WriteSummary(_ context.Context, username string, totals []core.MonthTotals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[username] = slices.Clone(totals)
	s.writes++
	return nil
}

// Summary returns the last summary written for username.
func (s *Store) Summary(username string) ([]core.MonthTotals, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals, ok := s.summaries[username]
	return slices.Clone(totals), ok
}

// Writes counts WriteSummary calls.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
