// Package sqlite provides a storage.Datasource persisted in a SQLite file
// through the pure-Go modernc.org/sqlite driver.
//
// All records live in one table keyed by the datasource key. TestAndSet is
// a single conditional UPDATE whose affected row count decides the winner.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/giantswarm/oauth-codegrant/storage"
)

const (
	// BackendName identifies this backend in spans and metrics.
	BackendName = "sqlite"

	// DefaultCleanupInterval is how often expired rows are deleted.
	DefaultCleanupInterval = time.Minute

	schema = `CREATE TABLE IF NOT EXISTS kv_entries (
	entry_key  TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
)`
)

// Store is a SQLite-backed storage.Datasource.
type Store struct {
	sqlDB  *sql.DB
	now    func() time.Time
	logger *slog.Logger

	stopCleanup chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

var _ storage.Datasource = (*Store)(nil)

// Open opens the database at path, creates the schema and starts the
// expiry cleanup loop. A cleanupInterval of zero uses DefaultCleanupInterval.
func Open(path string, cleanupInterval time.Duration) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serializes writers; SQLite would otherwise return
	// SQLITE_BUSY under concurrent test-and-set.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{
		sqlDB:       sqlDB,
		now:         time.Now,
		logger:      slog.Default(),
		stopCleanup: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop(cleanupInterval)
	return s, nil
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetClock replaces the time source used for expiry. Call before first use.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Close stops the cleanup loop and releases the database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	s.stopOnce.Do(func() { close(s.stopCleanup) })
	s.wg.Wait()
	return s.sqlDB.Close()
}

// Lookup returns the value stored under key.
func (s *Store) Lookup(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE entry_key = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, s.nowMillis(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return value, nil
}

// Insert upserts value under key.
func (s *Store) Insert(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixMilli()
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO kv_entries (entry_key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(entry_key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("put entry: %w", err)
	}
	return nil
}

// Remove deletes key.
func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM kv_entries WHERE entry_key = ?`, key); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// TestAndSet updates the row only if it is live and still holds expected.
func (s *Store) TestAndSet(ctx context.Context, key string, expected, value []byte) (bool, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE kv_entries SET value = ?
		 WHERE entry_key = ? AND value = ? AND (expires_at = 0 OR expires_at > ?)`,
		value, key, expected, s.nowMillis(),
	)
	if err != nil {
		return false, fmt.Errorf("test and set entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("test and set rows affected: %w", err)
	}
	return n == 1, nil
}

// Len returns the number of rows, including expired rows not yet purged.
func (s *Store) Len(ctx context.Context) (int64, error) {
	var n int64
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// CleanupExpired deletes expired rows and returns how many were removed.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE expires_at != 0 AND expires_at <= ?`, s.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired entries: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) cleanupLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			n, err := s.CleanupExpired(context.Background())
			if err != nil {
				s.logger.Warn("Failed to clean up expired entries", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("Cleaned up expired entries", "count", n)
			}
		}
	}
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}
