// Package storage persists user records. Every backend keeps a record
// atomic per username: readers see either the previous or the new record.
package storage

import (
	"context"
	"errors"

	"kasa/internal/core"
)

var (
	ErrNotFound = errors.New("user not found")
	ErrExists   = errors.New("user already exists")
)

// UserStore loads and saves whole user records.
type UserStore interface {
	Load(ctx context.Context, username string) (core.UserRecord, error)
	// Create stores a new record and fails with ErrExists if one is present.
	Create(ctx context.Context, record core.UserRecord) error
	// Save replaces the record stored under record.Username.
	Save(ctx context.Context, record core.UserRecord) error
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, username string) error
	Close() error
}
