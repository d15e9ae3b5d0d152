package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"kasa/internal/core"
)

func TestMemoryStoreWriteSummary(t *testing.T) {
	s := New()
	if _, ok := s.Summary("alice"); ok {
		t.Fatal("expected no summary before the first write")
	}

	totals := []core.MonthTotals{{MonthKey: "2024-06", TotalIncome: decimal.NewFromInt(10)}}
	if err := s.WriteSummary(context.Background(), "alice", totals); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}

	// The caller's slice is not retained.
	totals[0].MonthKey = "changed"

	got, ok := s.Summary("alice")
	if !ok || len(got) != 1 || got[0].MonthKey != "2024-06" {
		t.Fatalf("unexpected summary: %+v ok=%v", got, ok)
	}
	if s.Writes() != 1 {
		t.Errorf("Writes() = %d, want 1", s.Writes())
	}
}
