package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"order-workers/internal/common/logger"
	"order-workers/internal/models"

	"github.com/redis/go-redis/v9"
)

const DefaultCacheKey = "catalog:entries:v1"

// CachedSource keeps the catalog in Redis for ttl and falls through to next
// on a miss. Redis failures are logged and never fail a load.
type CachedSource struct {
	next   Source
	redis  redis.Cmdable
	key    string
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedSource(next Source, rdb redis.Cmdable, ttl time.Duration, log logger.Logger) *CachedSource {
	return &CachedSource{
		next:   next,
		redis:  rdb,
		key:    DefaultCacheKey,
		ttl:    ttl,
		logger: logger.ForComponent(log, "catalog-cache"),
	}
}

func (c *CachedSource) Load(ctx context.Context) ([]models.CatalogEntry, error) {
	val, err := c.redis.Get(ctx, c.key).Result()
	switch {
	case err == nil:
		var entries []models.CatalogEntry
		jerr := json.Unmarshal([]byte(val), &entries)
		if jerr == nil {
			return entries, nil
		}
		c.logger.WithError(jerr).Warn("Dropping unreadable cached catalog", map[string]interface{}{
			"key": c.key,
		})
	case errors.Is(err, redis.Nil):
	default:
		c.logger.WithError(err).Warn("Catalog cache read failed", map[string]interface{}{
			"key": c.key,
		})
	}

	entries, err := c.next.Load(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(entries)
	if err == nil {
		err = c.redis.Set(ctx, c.key, data, c.ttl).Err()
	}
	if err != nil {
		c.logger.WithError(err).Warn("Catalog cache write failed", map[string]interface{}{
			"key": c.key,
		})
	}
	return entries, nil
}

// Invalidate drops the cached catalog so the next Load reads through.
func (c *CachedSource) Invalidate(ctx context.Context) error {
	return c.redis.Del(ctx, c.key).Err()
}
