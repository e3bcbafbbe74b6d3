package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Cache is a key/value table with expiry, stored next to the application tables.
type Cache struct {
	db        *Database
	tableName string
}

// NewCache creates the cache table tableName if it doesn't exist.
func NewCache(ctx context.Context, db *Database, tableName string) (*Cache, error) {
	if !tableNamePattern.MatchString(tableName) {
		return nil, fmt.Errorf("invalid cache table name %q", tableName)
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_expires ON %[1]s(expires_at);
	`, tableName)

	if err := db.ExecuteSchema(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to initialize cache %s: %w", tableName, err)
	}

	return &Cache{db: db, tableName: tableName}, nil
}

// Get returns the unexpired value stored under key.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = ? AND expires_at > ?`, c.tableName)

	var value string
	err := c.db.DB().QueryRowContext(ctx, query, key, time.Now().Unix()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get cache value: %w", err)
	}

	return value, true, nil
}

// Set stores value under key for ttl.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	now := time.Now()
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, expires_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value,
			expires_at = excluded.expires_at, updated_at = excluded.updated_at
	`, c.tableName)

	return c.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, key, value, now.Add(ttl).Unix(), now.Unix()); err != nil {
			return fmt.Errorf("failed to set cache value: %w", err)
		}
		return nil
	})
}

// Delete removes key from the cache
func (c *Cache) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, c.tableName)

	return c.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, key); err != nil {
			return fmt.Errorf("failed to delete cache value: %w", err)
		}
		return nil
	})
}

// CleanupExpired removes expired entries from the cache
func (c *Cache) CleanupExpired(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= ?`, c.tableName)

	var removed int64
	err := c.db.Transaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("failed to cleanup expired entries: %w", err)
		}
		removed, _ = result.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		slog.Debug("Cleaned up expired cache entries", "table", c.tableName, "count", removed)
	}
	return removed, nil
}
