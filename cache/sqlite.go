package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// SQLite is the default durable Store: one file, one row per entry,
// upserts keyed by the flattened cache key. Multiple processes on one
// host can share it.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) a SQLite-backed store at path.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite cache: path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("sqlite cache: create dirs: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite cache: open: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS lookup_cache (
		key TEXT PRIMARY KEY,
		entry BLOB NOT NULL,
		cached_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite cache: create table: %w", err)
	}
	// WAL tolerates a reader and a writer from separate processes.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite cache: enable WAL: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, key Key) (*Entry, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT entry FROM lookup_cache WHERE key = ?`, encodeKey(key)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite cache: get: %w", err)
	}

	e, err := unmarshalEntry(data)
	if err != nil {
		return nil, err
	}
	if e.Expired(time.Now()) {
		return nil, ErrMiss
	}
	return e, nil
}

// Put implements Store.
func (s *SQLite) Put(ctx context.Context, e *Entry) error {
	data, err := marshalEntry(e)
	if err != nil {
		return err
	}

	expiresAt := int64(0)
	if e.TTL > 0 {
		expiresAt = e.CachedAt.Add(e.TTL).Unix()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lookup_cache(key, entry, cached_at, expires_at) VALUES(?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET entry=excluded.entry, cached_at=excluded.cached_at, expires_at=excluded.expires_at`,
		encodeKey(e.Key), data, e.CachedAt.Unix(), expiresAt)
	if err != nil {
		return fmt.Errorf("sqlite cache: put: %w", err)
	}
	return nil
}

// Keys implements Store.
func (s *SQLite) Keys(ctx context.Context) ([]Key, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM lookup_cache`)
	if err != nil {
		return nil, fmt.Errorf("sqlite cache: keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []Key
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlite cache: scan key: %w", err)
		}
		key, err := decodeKey(raw)
		if err != nil {
			continue // Skip rows written by an incompatible version
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// PurgeExpired implements Store.
func (s *SQLite) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM lookup_cache WHERE expires_at > 0 AND expires_at < ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("sqlite cache: purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// Clear implements Store.
func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM lookup_cache`); err != nil {
		return fmt.Errorf("sqlite cache: clear: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}
