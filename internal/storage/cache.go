package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// CacheStore is the client-side durable key/value cache. Put is synchronous:
// when it returns without error the value has been committed, which is what
// lets the client treat its cache as the source of truth when offline.
type CacheStore struct {
	db *sql.DB
}

// NewCacheStore opens (or creates) the cache database at the provided path.
func NewCacheStore(path string) (*CacheStore, error) {
	if path == "" {
		return nil, errors.New("cache path is required")
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate cache: %w", err)
	}
	return &CacheStore{db: db}, nil
}

// Close releases the underlying DB connection.
func (c *CacheStore) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Get returns the value for key, with false when the key is absent.
func (c *CacheStore) Get(key string) (string, bool, error) {
	row := c.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// Put upserts the value for key.
func (c *CacheStore) Put(key, value string) error {
	_, err := c.db.Exec(`INSERT INTO kv(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
