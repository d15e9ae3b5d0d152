package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasa/internal/auth"
	"kasa/internal/core"
	"kasa/internal/storage/memory"
)

func TestRegister(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := NewAuthService(store, nil)

	rec, err := svc.Register(ctx, "  Alice ", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Username)
	assert.Empty(t, rec.Salt)
	assert.True(t, strings.HasPrefix(rec.PasswordHash, "$2"))

	stored, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, rec.PasswordHash, stored.PasswordHash)

	_, err = svc.Register(ctx, "ALICE", "another1")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestRegisterValidation(t *testing.T) {
	svc := NewAuthService(memory.New(), nil)

	_, err := svc.Register(context.Background(), "   ", "secret1")
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, auth.ErrEmptyUsername)

	_, err = svc.Register(context.Background(), "bob", "short")
	assert.ErrorIs(t, err, auth.ErrPasswordTooShort)
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	svc := NewAuthService(memory.New(), nil)
	_, err := svc.Register(ctx, "alice", "secret1")
	require.NoError(t, err)

	rec, err := svc.Login(ctx, "ALICE", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Username)

	_, err = svc.Login(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody", "secret1")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = svc.Login(ctx, "", "")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	// hex(sha256("secret1:abcd"))
	legacy := core.NewUserRecord("carol", "8a3e3969300bd27b3bcce4f2f1ee7dfa6f3e947dd97993468e6a72eb231f8f4b", "abcd", time.Now())
	require.NoError(t, store.Create(ctx, legacy))

	svc := NewAuthService(store, nil)
	rec, err := svc.Login(ctx, "carol", "secret1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rec.PasswordHash, "$2"))
	assert.Empty(t, rec.Salt)

	stored, err := store.Load(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, rec.PasswordHash, stored.PasswordHash)

	// The upgraded hash keeps working.
	_, err = svc.Login(ctx, "carol", "secret1")
	require.NoError(t, err)
}
