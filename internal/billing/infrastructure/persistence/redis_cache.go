package persistence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/billcycle/internal/billing/domain"
)

// RedisKeyPrefix namespaces billcycle keys in a shared Redis.
const RedisKeyPrefix = "billcycle:"

// RedisSnapshotCache keeps the cached record under a single Redis key.
type RedisSnapshotCache struct {
	client *redis.Client
	key    string
	codec  Codec
}

// NewRedisSnapshotCache creates a cache on client. The record never expires;
// it is replaced by the next successful fetch.
func NewRedisSnapshotCache(client *redis.Client, opts ...Option) *RedisSnapshotCache {
	o := buildOptions(opts)
	return &RedisSnapshotCache{
		client: client,
		key:    RedisKeyPrefix + domain.CacheKey,
		codec:  o.codec,
	}
}

// Load returns the cached record, or nil, nil when the key is missing.
func (c *RedisSnapshotCache) Load(ctx context.Context) (*domain.CachedSnapshot, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.codec.Unmarshal(data)
}

// Save replaces the cached record.
func (c *RedisSnapshotCache) Save(ctx context.Context, cached domain.CachedSnapshot) error {
	data, err := c.codec.Marshal(cached)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key, data, 0).Err()
}

// Delete removes the key.
func (c *RedisSnapshotCache) Delete(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}

// Key returns the Redis key holding the record.
func (c *RedisSnapshotCache) Key() string {
	return c.key
}
