package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tamrielwatch/ttcwatch/internal/domain"
	"go.uber.org/zap"
)

var _ domain.ListingCache = (*ListingCache)(nil)

// ListingCache keeps the latest fetch snapshot per item in redis for a
// short TTL, so bursts of checks on the same item reuse one scrape
// instead of hitting TTC again. Misses and redis failures both read as
// cache misses: the cache only reduces marketplace load, never
// correctness.
type ListingCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewListingCache(addr string, ttl time.Duration, logger *zap.Logger) *ListingCache {
	return &ListingCache{
		rdb:    redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		logger: logger,
	}
}

func (c *ListingCache) Get(ctx context.Context, key string) (*domain.FetchResult, bool) {
	data, err := c.rdb.Get(ctx, cacheKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("listing cache get failed", zap.String("item", key), zap.Error(err))
		}
		return nil, false
	}

	var result domain.FetchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn("listing cache entry unreadable", zap.String("item", key), zap.Error(err))
		return nil, false
	}
	return &result, true
}

func (c *ListingCache) Put(ctx context.Context, key string, result *domain.FetchResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("listing cache encode failed", zap.String("item", key), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(key), data, c.ttl).Err(); err != nil {
		c.logger.Warn("listing cache set failed", zap.String("item", key), zap.Error(err))
	}
}

func (c *ListingCache) Close() error {
	return c.rdb.Close()
}

func cacheKey(item string) string {
	return "ttcwatch:listings:" + item
}
