package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/carebridge-hub/backend/internal/domain/providers"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER
);`

// SQLiteAdapter is a file-backed CacheProvider for single-user tools. It
// keeps extraction results across CLI invocations the way a browser tab
// keeps them in session storage.
type SQLiteAdapter struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultSQLitePath returns the per-user cache location
func DefaultSQLitePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "carebridge", "handoff-cache.sqlite")
}

// OpenSQLite opens (creating if needed) the cache database at path
func OpenSQLite(path string) (*SQLiteAdapter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}

	return &SQLiteAdapter{db: db, now: time.Now}, nil
}

// Close closes the cache database
func (a *SQLiteAdapter) Close() error {
	return a.db.Close()
}

// Get retrieves a value from cache
func (a *SQLiteAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt sql.NullInt64
	err := a.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", providers.ErrCacheMiss, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	if expiresAt.Valid && a.now().Unix() >= expiresAt.Int64 {
		if _, err := a.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
			return nil, fmt.Errorf("failed to evict expired entry: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", providers.ErrCacheMiss, key)
	}
	return value, nil
}

// Set stores a value in cache with expiration
func (a *SQLiteAdapter) Set(ctx context.Context, key string, value []byte, expirationSeconds int) error {
	var expiresAt sql.NullInt64
	if expirationSeconds > 0 {
		expiresAt = sql.NullInt64{Int64: a.now().Unix() + int64(expirationSeconds), Valid: true}
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set in cache: %w", err)
	}
	return nil
}

// Delete removes a value from cache
func (a *SQLiteAdapter) Delete(ctx context.Context, key string) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete from cache: %w", err)
	}
	return nil
}

// Exists checks if a key exists in cache
func (a *SQLiteAdapter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.Get(ctx, key)
	if errors.Is(err, providers.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
