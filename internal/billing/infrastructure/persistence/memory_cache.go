package persistence

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/billcycle/internal/billing/domain"
)

// MemorySnapshotCache keeps the record for the life of the process.
type MemorySnapshotCache struct {
	mu     sync.RWMutex
	cached *domain.CachedSnapshot
}

// NewMemorySnapshotCache creates an empty cache.
func NewMemorySnapshotCache() *MemorySnapshotCache {
	return &MemorySnapshotCache{}
}

// Load returns a copy of the record.
func (c *MemorySnapshotCache) Load(context.Context) (*domain.CachedSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cached == nil {
		return nil, nil
	}
	cp := *c.cached
	cp.Snapshot = c.cached.Snapshot.Clone()
	return &cp, nil
}

// Save stores a copy of the record.
func (c *MemorySnapshotCache) Save(_ context.Context, cached domain.CachedSnapshot) error {
	cached.Snapshot = cached.Snapshot.Clone()
	c.mu.Lock()
	c.cached = &cached
	c.mu.Unlock()
	return nil
}

// Delete empties the cache.
func (c *MemorySnapshotCache) Delete(context.Context) error {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
	return nil
}
