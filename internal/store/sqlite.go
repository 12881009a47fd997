package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"feedline/internal/logging"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	// DriverMattn is the cgo driver registered by mattn/go-sqlite3.
	DriverMattn = "sqlite3"
	// DriverModernc is the pure-Go driver registered by modernc.org/sqlite.
	DriverModernc = "sqlite"
)

// SQLiteStore keeps entries in a single kv table.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	opts   Options
	path   string
	driver string
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" gives
// a private in-memory database.
func NewSQLiteStore(path string, opts Options) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSQLiteStore")
	defer timer.Stop()

	driver := opts.SQLiteDriver
	if driver == "" {
		driver = DriverMattn
	}
	if driver != DriverMattn && driver != DriverModernc {
		return nil, fmt.Errorf("unknown sqlite driver %q", driver)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
	}

	s := &SQLiteStore{db: db, opts: opts, path: path, driver: driver}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("SQLite store ready (%s, driver %s)", path, driver)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		scope TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		expires_at INTEGER,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (scope, key)
	);
	CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv(expires_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create kv table: %w", err)
	}
	return nil
}

// Driver returns the database/sql driver name in use.
func (s *SQLiteStore) Driver() string { return s.driver }

func (s *SQLiteStore) Get(ctx context.Context, scope Scope, key string) (string, bool, error) {
	if err := checkScope(scope); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		value     string
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM kv WHERE scope = ? AND key = ?",
		string(scope), key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s/%s: %w", scope, key, err)
	}
	if expiresAt.Valid && s.opts.now().UnixNano() >= expiresAt.Int64 {
		return "", false, nil
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, scope Scope, key, value string) error {
	if err := checkScope(scope); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt sql.NullInt64
	if e := newEntry(scope, value, s.opts); e.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: e.ExpiresAt.UnixNano(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (scope, key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(scope, key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = CURRENT_TIMESTAMP`,
		string(scope), key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", scope, key, err)
	}
	logging.StoreDebug("Set %s/%s", scope, key)
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, scope Scope, key string) error {
	if err := checkScope(scope); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE scope = ? AND key = ?", string(scope), key); err != nil {
		return fmt.Errorf("failed to remove %s/%s: %w", scope, key, err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv"); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	return nil
}

// PurgeExpired deletes expired session entries and returns how many were
// removed.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?",
		s.opts.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired entries: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.StoreDebug("Purged %d expired entries", n)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
