package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evercart/evercart/services/product-service/internal/storage"
)

// Cache is a read-through product cache. A nil client disables it, and
// every Redis failure is soft: reads fall through to Postgres, writes
// are dropped.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(id string) string { return "product:" + id }

func (c *Cache) Get(ctx context.Context, id string) (storage.Product, bool) {
	if c.rdb == nil {
		return storage.Product{}, false
	}
	val, err := c.rdb.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache read failed", "err", err, "product_id", id)
		}
		return storage.Product{}, false
	}
	var p storage.Product
	if err := json.Unmarshal(val, &p); err != nil {
		c.logger.Warn("cache entry corrupt, dropping", "err", err, "product_id", id)
		c.rdb.Del(ctx, cacheKey(id))
		return storage.Product{}, false
	}
	return p, true
}

func (c *Cache) Put(ctx context.Context, p storage.Product) {
	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(p.ID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", "err", err, "product_id", p.ID)
	}
}

func (c *Cache) Invalidate(ctx context.Context, id string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, cacheKey(id)).Err(); err != nil {
		c.logger.Warn("cache invalidation failed", "err", err, "product_id", id)
	}
}
