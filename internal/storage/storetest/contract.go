// Package storetest holds the behaviour every storage.UserStore must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasa/internal/core"
	"kasa/internal/storage"
)

// SampleRecord returns a record with globals and one stored month.
func SampleRecord(username string) core.UserRecord {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := core.NewUserRecord(username, "$2a$10$hash", "", now)
	rec.GlobalIncomes = []core.StoredMoneyItem{
		{ID: "salary", Name: "Salary", Amount: decimal.RequireFromString("2100.50"), StartMonthKey: "2024-01"},
	}
	rec.GlobalInstallments = []core.StoredInstallment{
		{ID: "tv", Name: "TV", Plan: core.TotalWithCount{Total: decimal.NewFromInt(1200), Months: 12}, StartMonthKey: "2024-01"},
	}
	snap := core.NewMonthlySnapshot("2024-03", now)
	snap.PeriodExpenses = []core.MoneyItem{{ID: "pizza", Name: "Pizza", Amount: decimal.NewFromInt(20)}}
	rec.Months["2024-03"] = snap
	return rec
}

// Run exercises newStore against the UserStore contract.
func Run(t *testing.T, newStore func(t *testing.T) storage.UserStore) {
	ctx := context.Background()

	t.Run("load missing user", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Load(ctx, "nobody")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("create and load round trip", func(t *testing.T) {
		s := newStore(t)
		rec := SampleRecord("anna")
		require.NoError(t, s.Create(ctx, rec))

		got, err := s.Load(ctx, "anna")
		require.NoError(t, err)
		assert.Equal(t, "anna", got.Username)
		require.Len(t, got.GlobalIncomes, 1)
		assert.True(t, got.GlobalIncomes[0].Amount.Equal(decimal.RequireFromString("2100.50")))
		require.Len(t, got.GlobalInstallments, 1)
		assert.Equal(t, 12, got.GlobalInstallments[0].Plan.PlannedMonths())
		require.Contains(t, got.Months, "2024-03")
		assert.Len(t, got.Months["2024-03"].PeriodExpenses, 1)
	})

	t.Run("create rejects duplicates", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, SampleRecord("anna")))
		assert.ErrorIs(t, s.Create(ctx, SampleRecord("anna")), storage.ErrExists)
	})

	t.Run("save replaces record", func(t *testing.T) {
		s := newStore(t)
		rec := SampleRecord("anna")
		require.NoError(t, s.Create(ctx, rec))

		rec.GlobalIncomes = nil
		require.NoError(t, s.Save(ctx, rec))

		got, err := s.Load(ctx, "anna")
		require.NoError(t, err)
		assert.Empty(t, got.GlobalIncomes)
		assert.NotNil(t, got.GlobalIncomes)
	})

	t.Run("list is sorted", func(t *testing.T) {
		s := newStore(t)
		for _, name := range []string{"carla", "anna", "bruno"} {
			require.NoError(t, s.Create(ctx, SampleRecord(name)))
		}
		names, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"anna", "bruno", "carla"}, names)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, SampleRecord("anna")))
		require.NoError(t, s.Delete(ctx, "anna"))

		_, err := s.Load(ctx, "anna")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, "anna"), storage.ErrNotFound)
	})
}
