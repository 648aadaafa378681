package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

const maxBusyRetries = 3

type sqliteConfig struct {
	busyTimeout int
	mkdirAll    bool
	opTimeout   time.Duration
}

// SQLiteOption customises OpenSQLite.
type SQLiteOption func(*sqliteConfig)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 5000.
func WithBusyTimeout(ms int) SQLiteOption { return func(c *sqliteConfig) { c.busyTimeout = ms } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() SQLiteOption { return func(c *sqliteConfig) { c.mkdirAll = true } }

// WithOpTimeout bounds each store operation. Default: 2s.
func WithOpTimeout(d time.Duration) SQLiteOption { return func(c *sqliteConfig) { c.opTimeout = d } }

// SQLite is a Store backed by one SQLite file. Every process that opens the
// same file shares the same state, which is how independent tab instance
// processes see each other.
type SQLite struct {
	db        *sql.DB
	opTimeout time.Duration
	now       func() time.Time
}

// OpenSQLite opens (and creates if needed) the store at path.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLite, error) {
	cfg := sqliteConfig{busyTimeout: 5000, opTimeout: 2 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("kvstore: mkdir: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(%d)", path, cfg.busyTimeout)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("kvstore: schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("kvstore: ping: %w", err)
	}

	return &SQLite{db: db, opTimeout: cfg.opTimeout, now: time.Now}, nil
}

// OpenSQLiteMemory opens an in-memory store for tests. MaxOpenConns is pinned
// to 1 because every ":memory:" connection is a separate database.
func OpenSQLiteMemory(t testing.TB) *SQLite {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("kvstore.OpenSQLiteMemory: %v", err)
	}
	s.db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get", key, err)
	}
	return value, true, nil
}

func (s *SQLite) Set(key, value string) error {
	return s.exec("set", key,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UnixMilli())
}

func (s *SQLite) Remove(key string) error {
	return s.exec("remove", key, `DELETE FROM kv WHERE key = ?`, key)
}

// Keys returns every key with the given prefix in lexical order.
func (s *SQLite) Keys(prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, unavailable("keys", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, unavailable("keys", prefix, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("keys", prefix, err)
	}
	return keys, nil
}

// exec runs a write with retry on SQLITE_BUSY (100/200/300 ms backoff).
func (s *SQLite) exec(op, key, query string, args ...any) error {
	var err error
	for i := range maxBusyRetries {
		ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
		_, err = s.db.ExecContext(ctx, query, args...)
		cancel()
		if err == nil {
			return nil
		}
		if !isBusy(err) || i == maxBusyRetries-1 {
			break
		}
		time.Sleep(time.Duration(100*(i+1)) * time.Millisecond)
	}
	return unavailable(op, key, err)
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
