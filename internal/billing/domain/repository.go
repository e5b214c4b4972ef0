package domain

import (
	"context"
	"time"
)

// CacheKey names the single cached record on every backing store.
const CacheKey = "cachedSubscription"

// CachedSnapshot is the persisted copy of the last successful fetch.
type CachedSnapshot struct {
	UserID   string    `json:"userId"`
	CachedAt time.Time `json:"cachedAt"`
	Snapshot Snapshot  `json:"snapshot"`
}

// SnapshotCache is a single-slot store for the last known snapshot.
type SnapshotCache interface {
	// Load returns the cached record, or nil, nil when the slot is empty.
	Load(ctx context.Context) (*CachedSnapshot, error)

	// Save replaces the cached record.
	Save(ctx context.Context, cached CachedSnapshot) error

	// Delete empties the slot. Deleting an empty slot is not an error.
	Delete(ctx context.Context) error
}
