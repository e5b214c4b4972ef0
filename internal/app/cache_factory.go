package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	billingDomain "github.com/felixgeelhaar/billcycle/internal/billing/domain"
	"github.com/felixgeelhaar/billcycle/internal/billing/infrastructure/persistence"
	"github.com/felixgeelhaar/billcycle/internal/shared/infrastructure/crypto"
	"github.com/felixgeelhaar/billcycle/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/billcycle/pkg/config"
)

// newSnapshotCache creates the cache for the configured driver. Records are
// sealed when an encryption key is configured.
func (c *Container) newSnapshotCache(ctx context.Context) (billingDomain.SnapshotCache, error) {
	opts, err := cacheOptions(c.Config)
	if err != nil {
		return nil, err
	}

	switch c.Config.CacheDriver {
	case config.CacheDriverFile, "":
		return persistence.NewFileSnapshotCache(c.Config.CachePath, opts...), nil

	case config.CacheDriverSQLite:
		db, err := sqlite.Open(ctx, c.Config.CachePath)
		if err != nil {
			return nil, err
		}
		c.SQLiteDB = db
		return persistence.NewSQLiteSnapshotCache(ctx, db, opts...)

	case config.CacheDriverRedis:
		opt, err := redis.ParseURL(c.Config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			if !c.Config.IsDevelopment() {
				return nil, fmt.Errorf("failed to connect to Redis: %w", err)
			}
			c.Logger.Warn("Redis not available, caching in memory", "error", err)
			return persistence.NewMemorySnapshotCache(), nil
		}
		c.RedisClient = client
		return persistence.NewRedisSnapshotCache(client, opts...), nil

	case config.CacheDriverMemory:
		return persistence.NewMemorySnapshotCache(), nil

	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", c.Config.CacheDriver)
	}
}

func cacheOptions(cfg *config.Config) ([]persistence.Option, error) {
	if cfg.EncryptionKey == "" {
		return nil, nil
	}
	sealer, err := crypto.NewSealerFromBase64Key(cfg.EncryptionKey, []byte(billingDomain.CacheKey))
	if err != nil {
		return nil, fmt.Errorf("invalid cache encryption key: %w", err)
	}
	return []persistence.Option{persistence.WithCodec(persistence.NewSealedCodec(nil, sealer))}, nil
}
