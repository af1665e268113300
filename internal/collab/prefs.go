// internal/collab/prefs.go
package collab

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"

	_ "modernc.org/sqlite"
)

// GetBool reads a boolean preference. Missing keys are false.
func GetBool(ctx context.Context, p Prefs, key string) (bool, error) {
	v, ok, err := p.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("preference %q: %w", key, err)
	}
	return b, nil
}

// SetBool stores a boolean preference.
func SetBool(ctx context.Context, p Prefs, key string, v bool) error {
	return p.Set(ctx, key, strconv.FormatBool(v))
}

// -- Memory --

// MemoryPrefs keeps preferences for the life of the process.
type MemoryPrefs struct {
	mu   sync.RWMutex
	vals map[string]string
}

func NewMemoryPrefs() *MemoryPrefs {
	return &MemoryPrefs{vals: make(map[string]string)}
}

func (m *MemoryPrefs) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *MemoryPrefs) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	return nil
}

func (m *MemoryPrefs) Close() error { return nil }

// -- SQLite --

// SQLitePrefs persists preferences in a single-table SQLite database.
type SQLitePrefs struct {
	db *sql.DB
}

const prefsSchema = `CREATE TABLE IF NOT EXISTS prefs (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
)`

// OpenSQLitePrefs opens or creates the store at path. ":memory:" is allowed.
func OpenSQLitePrefs(ctx context.Context, path string) (*SQLitePrefs, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening preference store: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, prefsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing preference store: %w", err)
	}
	return &SQLitePrefs{db: db}, nil
}

func (s *SQLitePrefs) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM prefs WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading preference %q: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLitePrefs) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prefs (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = strftime('%s','now')`,
		key, value)
	if err != nil {
		return fmt.Errorf("writing preference %q: %w", key, err)
	}
	return nil
}

func (s *SQLitePrefs) Close() error { return s.db.Close() }
