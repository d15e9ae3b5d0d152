package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kasa/internal/auth"
	"kasa/internal/core"
	"kasa/internal/storage"
)

var ErrUserExists = errors.New("username already taken")

// AuthService registers users and checks their passwords.
type AuthService struct {
	store storage.UserStore
	locks *UserLocks
	now   func() time.Time
}

// NewAuthService creates the service. Pass the locks used by the
// LedgerService on the same store so password upgrades never race edits.
func NewAuthService(store storage.UserStore, locks *UserLocks) *AuthService {
	if locks == nil {
		locks = NewUserLocks()
	}
	return &AuthService{store: store, locks: locks, now: time.Now}
}

// Register creates an empty record for a new user.
func (s *AuthService) Register(ctx context.Context, username, password string) (core.UserRecord, error) {
	normalized, err := auth.ValidateCredentials(username, password)
	if err != nil {
		return core.UserRecord{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return core.UserRecord{}, fmt.Errorf("hash password: %w", err)
	}

	record := core.NewUserRecord(normalized, hash, "", s.now())
	if err := s.store.Create(ctx, record); err != nil {
		if errors.Is(err, storage.ErrExists) {
			return core.UserRecord{}, ErrUserExists
		}
		return core.UserRecord{}, fmt.Errorf("create user: %w", err)
	}

	slog.InfoContext(ctx, "User registered", "component", "auth", "username", normalized)
	return record, nil
}

// Login verifies credentials. Legacy hashes are replaced with bcrypt on a
// successful login; a failed upgrade does not fail the login.
func (s *AuthService) Login(ctx context.Context, username, password string) (core.UserRecord, error) {
	normalized := auth.NormalizeUsername(username)
	if normalized == "" || password == "" {
		return core.UserRecord{}, auth.ErrInvalidCredentials
	}

	unlock := s.locks.Lock(normalized)
	defer unlock()

	user, err := s.store.Load(ctx, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return core.UserRecord{}, auth.ErrInvalidCredentials
		}
		return core.UserRecord{}, fmt.Errorf("load user: %w", err)
	}

	ok, needsRehash := auth.VerifyPassword(user.PasswordHash, user.Salt, password)
	if !ok {
		slog.WarnContext(ctx, "Login failed", "component", "auth", "username", normalized)
		return core.UserRecord{}, auth.ErrInvalidCredentials
	}

	if needsRehash {
		if err := s.upgradeHash(ctx, &user, password); err != nil {
			slog.ErrorContext(ctx, "Failed to upgrade password hash",
				"component", "auth", "username", normalized, "error", err)
		}
	}
	return user, nil
}

func (s *AuthService) upgradeHash(ctx context.Context, user *core.UserRecord, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	upgraded := *user
	upgraded.PasswordHash = hash
	upgraded.Salt = ""
	if err := s.store.Save(ctx, upgraded); err != nil {
		return err
	}
	*user = upgraded
	slog.InfoContext(ctx, "Upgraded legacy password hash", "component", "auth", "username", user.Username)
	return nil
}
