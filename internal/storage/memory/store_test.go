package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasa/internal/storage"
	"kasa/internal/storage/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.UserStore { return New() })
}

func TestStoreIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec := storetest.SampleRecord("anna")
	require.NoError(t, s.Create(ctx, rec))

	rec.Months["2024-04"] = rec.Months["2024-03"]
	got, err := s.Load(ctx, "anna")
	require.NoError(t, err)
	assert.NotContains(t, got.Months, "2024-04")

	delete(got.Months, "2024-03")
	again, err := s.Load(ctx, "anna")
	require.NoError(t, err)
	assert.Contains(t, again.Months, "2024-03")
}
