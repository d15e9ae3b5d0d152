package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"kasa/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository stores each user record as one JSON document row.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Load(ctx context.Context, username string) (core.UserRecord, error) {
	row, err := r.queries.GetUser(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return core.UserRecord{}, ErrNotFound
	}
	if err != nil {
		return core.UserRecord{}, fmt.Errorf("get user %s: %w", username, err)
	}
	return decodeRecord([]byte(row.Record))
}

func (r *SQLiteRepository) Create(ctx context.Context, record core.UserRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode user record: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	n, err := r.queries.InsertUser(ctx, InsertUserParams{
		Username:  record.Username,
		Record:    string(data),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("insert user %s: %w", record.Username, err)
	}
	if n == 0 {
		return ErrExists
	}

	slog.InfoContext(ctx, "User record created", "component", "storage", "username", record.Username)
	return nil
}

func (r *SQLiteRepository) Save(ctx context.Context, record core.UserRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode user record: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := r.queries.UpsertUser(ctx, UpsertUserParams{
		Username:  record.Username,
		Record:    string(data),
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("save user %s: %w", record.Username, err)
	}

	slog.DebugContext(ctx, "User record saved", "component", "storage", "username", record.Username, "bytes", len(data))
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]string, error) {
	names, err := r.queries.ListUsernames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, username string) error {
	n, err := r.queries.DeleteUser(ctx, username)
	if err != nil {
		return fmt.Errorf("delete user %s: %w", username, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of stored users.
func (r *SQLiteRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.queries.CountUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func decodeRecord(data []byte) (core.UserRecord, error) {
	var rec core.UserRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return core.UserRecord{}, fmt.Errorf("decode user record: %w", err)
	}
	rec.Normalize()
	return rec, nil
}
