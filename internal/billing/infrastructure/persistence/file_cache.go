package persistence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/felixgeelhaar/billcycle/internal/billing/domain"
)

// FileSnapshotCache keeps the cached record in a single file.
type FileSnapshotCache struct {
	filePath string
	codec    Codec
	mu       sync.RWMutex
}

// NewFileSnapshotCache creates a file-backed cache at filePath.
func NewFileSnapshotCache(filePath string, opts ...Option) *FileSnapshotCache {
	o := buildOptions(opts)
	return &FileSnapshotCache{filePath: filePath, codec: o.codec}
}

// Load reads the cached record.
// Returns nil, nil if the file does not exist yet.
func (c *FileSnapshotCache) Load(ctx context.Context) (*domain.CachedSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := os.ReadFile(c.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return c.codec.Unmarshal(data)
}

// Save replaces the file through a rename so readers never see a partial
// record.
func (c *FileSnapshotCache) Save(ctx context.Context, cached domain.CachedSnapshot) error {
	data, err := c.codec.Marshal(cached)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".subscription-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.filePath)
}

// Delete removes the file.
func (c *FileSnapshotCache) Delete(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := os.Remove(c.filePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// FilePath returns the path of the cache file.
func (c *FileSnapshotCache) FilePath() string {
	return c.filePath
}
