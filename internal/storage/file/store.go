// Package file stores one JSON document per user under <dir>/users.
package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kasa/internal/core"
	"kasa/internal/storage"
)

const loadConcurrency = 8

var unsafeChars = regexp.MustCompile(`[^a-z0-9._-]`)

// envelope is the on-disk shape. Files holding a bare record are also read.
type envelope struct {
	UpdatedAt time.Time        `json:"updatedAt"`
	Record    *core.UserRecord `json:"record"`
}

// Store implements storage.UserStore on the local filesystem.
type Store struct {
	dir string
	// mu serializes writes in this process; rename keeps readers consistent.
	mu  sync.Mutex
	now func() time.Time
}

var _ storage.UserStore = (*Store)(nil)

// New creates the users directory below dataDir if needed.
func New(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, "users")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create users directory: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Dir returns the directory holding the user files.
func (s *Store) Dir() string { return s.dir }

// SafeFilename maps a username to a file stem: lowercase, characters outside
// [a-z0-9._-] replaced by '-', leading and trailing '.' and '-' removed.
// Names that clean to nothing get a stable hash-based stem.
func SafeFilename(username string) string {
	cleaned := unsafeChars.ReplaceAllString(strings.ToLower(username), "-")
	cleaned = strings.Trim(cleaned, ".-")
	if cleaned != "" {
		return cleaned
	}
	sum := sha256.Sum256([]byte(username))
	return "user-" + hex.EncodeToString(sum[:8])
}

func (s *Store) path(username string) string {
	return filepath.Join(s.dir, SafeFilename(username)+".json")
}

func (s *Store) Load(ctx context.Context, username string) (core.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return core.UserRecord{}, err
	}
	rec, err := readFile(s.path(username))
	if err != nil {
		return core.UserRecord{}, err
	}
	// Different usernames can share a stem; never hand out someone else's record.
	if rec.Username == "" {
		rec.Username = username
	} else if rec.Username != username {
		return core.UserRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

func readFile(path string) (core.UserRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return core.UserRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return core.UserRecord{}, fmt.Errorf("read user file: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return core.UserRecord{}, fmt.Errorf("decode user file %s: %w", filepath.Base(path), err)
	}
	var rec core.UserRecord
	if env.Record != nil {
		rec = *env.Record
	} else if err := json.Unmarshal(data, &rec); err != nil {
		return core.UserRecord{}, fmt.Errorf("decode user file %s: %w", filepath.Base(path), err)
	}
	rec.Normalize()
	return rec, nil
}

func (s *Store) Create(ctx context.Context, record core.UserRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(record.Username)); err == nil {
		return storage.ErrExists
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat user file: %w", err)
	}
	return s.write(record)
}

func (s *Store) Save(ctx context.Context, record core.UserRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(record)
}

// write replaces the file through a temp file and rename.
func (s *Store) write(record core.UserRecord) error {
	target := s.path(record.Username)
	data, err := json.MarshalIndent(envelope{UpdatedAt: s.now().UTC(), Record: &record}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode user record: %w", err)
	}
	data = append(data, '\n')

	tmp := target + ".tmp-" + strconv.FormatInt(s.now().UnixNano(), 10)
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace user file: %w", err)
	}

	slog.Debug("User file written", "component", "storage", "username", record.Username, "path", target)
	return nil
}

// List returns the usernames of every readable user file, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	records, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(records))
	for _, r := range records {
		names = append(names, r.Username)
	}
	return names, nil
}

// LoadAll reads every user file concurrently. Unreadable files are logged
// and skipped. The result is sorted by username.
func (s *Store) LoadAll(ctx context.Context) ([]core.UserRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read users directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(s.dir, e.Name()))
	}

	records := make([]*core.UserRecord, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := readFile(path)
			if err != nil {
				slog.Warn("Skipping unreadable user file", "component", "storage", "path", path, "error", err)
				return nil
			}
			if rec.Username == "" {
				rec.Username = strings.TrimSuffix(filepath.Base(path), ".json")
			}
			records[i] = &rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]core.UserRecord, 0, len(records))
	for _, r := range records {
		if r != nil {
			out = append(out, *r)
		}
	}
	slices.SortFunc(out, func(a, b core.UserRecord) int {
		return strings.Compare(a.Username, b.Username)
	})
	return out, nil
}

func (s *Store) Delete(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.Load(ctx, username); err != nil {
		return err
	}
	if err := os.Remove(s.path(username)); err != nil {
		return fmt.Errorf("remove user file: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return nil }
