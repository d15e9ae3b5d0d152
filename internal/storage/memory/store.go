// Package memory keeps user records in process memory. Records are cloned
// on the way in and out so callers never share state with the store.
package memory

import (
	"context"
	"slices"
	"sync"

	"kasa/internal/core"
	"kasa/internal/storage"
)

type Store struct {
	mu    sync.RWMutex
	users map[string]core.UserRecord
}

var _ storage.UserStore = (*Store)(nil)

func New() *Store {
	return &Store{users: make(map[string]core.UserRecord)}
}

func (s *Store) Load(_ context.Context, username string) (core.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[username]
	if !ok {
		return core.UserRecord{}, storage.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) Create(_ context.Context, record core.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[record.Username]; ok {
		return storage.ErrExists
	}
	rec := record.Clone()
	rec.Normalize()
	s.users[record.Username] = rec
	return nil
}

func (s *Store) Save(_ context.Context, record core.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := record.Clone()
	rec.Normalize()
	s.users[record.Username] = rec
	return nil
}

func (s *Store) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (s *Store) Delete(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; !ok {
		return storage.ErrNotFound
	}
	delete(s.users, username)
	return nil
}

func (s *Store) Close() error { return nil }
