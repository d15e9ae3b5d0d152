package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type User struct {
	Username  string
	Record    string
	CreatedAt string
	UpdatedAt string
}

const getUser = `-- name: GetUser :one
SELECT username, record, created_at, updated_at FROM users WHERE username = ?
`

func (q *Queries) GetUser(ctx context.Context, username string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUser, username)
	var i User
	err := row.Scan(&i.Username, &i.Record, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const insertUser = `-- name: InsertUser :execrows
INSERT INTO users (username, record, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(username) DO NOTHING
`

type InsertUserParams struct {
	Username  string
	Record    string
	CreatedAt string
	UpdatedAt string
}

func (q *Queries) InsertUser(ctx context.Context, arg InsertUserParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertUser, arg.Username, arg.Record, arg.CreatedAt, arg.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const upsertUser = `-- name: UpsertUser :exec
INSERT INTO users (username, record, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(username) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at
`

type UpsertUserParams struct {
	Username  string
	Record    string
	CreatedAt string
	UpdatedAt string
}

func (q *Queries) UpsertUser(ctx context.Context, arg UpsertUserParams) error {
	_, err := q.db.ExecContext(ctx, upsertUser, arg.Username, arg.Record, arg.CreatedAt, arg.UpdatedAt)
	return err
}

const listUsernames = `-- name: ListUsernames :many
SELECT username FROM users ORDER BY username
`

func (q *Queries) ListUsernames(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listUsernames)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, err
		}
		items = append(items, username)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteUser = `-- name: DeleteUser :execrows
DELETE FROM users WHERE username = ?
`

func (q *Queries) DeleteUser(ctx context.Context, username string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteUser, username)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const countUsers = `-- name: CountUsers :one
SELECT COUNT(*) FROM users
`

func (q *Queries) CountUsers(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countUsers)
	var count int64
	err := row.Scan(&count)
	return count, err
}
