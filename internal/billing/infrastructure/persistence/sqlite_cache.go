package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/felixgeelhaar/billcycle/internal/billing/domain"
)

const createSnapshotTable = `
CREATE TABLE IF NOT EXISTS snapshot_cache (
    cache_key  TEXT PRIMARY KEY,
    payload    BLOB NOT NULL,
    updated_at TEXT NOT NULL
)`

// SQLiteSnapshotCache keeps the cached record in one row of a SQLite table.
type SQLiteSnapshotCache struct {
	db    *sql.DB
	codec Codec
}

// NewSQLiteSnapshotCache creates the cache table if needed.
func NewSQLiteSnapshotCache(ctx context.Context, db *sql.DB, opts ...Option) (*SQLiteSnapshotCache, error) {
	if _, err := db.ExecContext(ctx, createSnapshotTable); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &SQLiteSnapshotCache{db: db, codec: o.codec}, nil
}

// Load returns the cached record, or nil, nil when there is none.
func (c *SQLiteSnapshotCache) Load(ctx context.Context) (*domain.CachedSnapshot, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshot_cache WHERE cache_key = ?`, domain.CacheKey,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.codec.Unmarshal(payload)
}

// Save upserts the cached record.
func (c *SQLiteSnapshotCache) Save(ctx context.Context, cached domain.CachedSnapshot) error {
	payload, err := c.codec.Marshal(cached)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO snapshot_cache (cache_key, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, domain.CacheKey, payload, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Delete removes the cached record.
func (c *SQLiteSnapshotCache) Delete(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM snapshot_cache WHERE cache_key = ?`, domain.CacheKey)
	return err
}
