package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type backend interface {
	LoadSnapshot(ctx context.Context, boardID string) ([]byte, error)
	SaveSnapshot(ctx context.Context, boardID string, data []byte) error
}

// Cache wraps a snapshot store with a Redis read-through, write-through copy.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// A nil client disables caching.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) LoadSnapshot(ctx context.Context, boardID string) ([]byte, error) {
	if data, ok := c.loadFromCache(ctx, boardID); ok {
		return data, nil
	}
	data, err := c.base.LoadSnapshot(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if data != nil {
		c.store(ctx, boardID, data)
	}
	return data, nil
}

func (c *Cache) SaveSnapshot(ctx context.Context, boardID string, data []byte) error {
	if err := c.base.SaveSnapshot(ctx, boardID, data); err != nil {
		c.evict(ctx, boardID)
		return err
	}
	c.store(ctx, boardID, data)
	return nil
}

func (c *Cache) loadFromCache(ctx context.Context, boardID string) ([]byte, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, snapshotCacheKey(boardID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing storage without failing.
			c.evict(ctx, boardID)
		}
		return nil, false
	}
	if len(data) == 0 {
		c.evict(ctx, boardID)
		return nil, false
	}
	return data, true
}

func (c *Cache) store(ctx context.Context, boardID string, data []byte) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	_ = c.redis.Set(ctx, snapshotCacheKey(boardID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, snapshotCacheKey(boardID)).Err()
}

func snapshotCacheKey(boardID string) string {
	return "board:snapshot:" + boardID
}
