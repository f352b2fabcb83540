package availability

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"spacehire/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Cache keeps availability rows in Redis. A nil *Cache is a valid no-op.
type Cache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCache(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Cache {
	if client == nil || ttl <= 0 {
		return nil
	}
	return &Cache{
		redis:  client,
		ttl:    ttl,
		logger: logger.With().Str("component", "availability_cache").Logger(),
	}
}

func cacheKey(spaceID int64) string {
	return fmt.Sprintf("availability:%d", spaceID)
}

func (c *Cache) Get(ctx context.Context, spaceID int64) ([]models.Availability, bool) {
	if c == nil {
		return nil, false
	}
	val, err := c.redis.Get(ctx, cacheKey(spaceID)).Bytes()
	if err != nil {
		return nil, false
	}
	var rows []models.Availability
	if err := json.Unmarshal(val, &rows); err != nil {
		return nil, false
	}
	return rows, true
}

func (c *Cache) Set(ctx context.Context, spaceID int64, rows []models.Availability) {
	if c == nil {
		return
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, cacheKey(spaceID), data, c.ttl).Err(); err != nil {
		c.logger.Debug().Err(err).Int64("space_id", spaceID).Msg("cache write failed")
	}
}

func (c *Cache) Delete(ctx context.Context, spaceIDs ...int64) {
	if c == nil || len(spaceIDs) == 0 {
		return
	}
	keys := make([]string, len(spaceIDs))
	for i, id := range spaceIDs {
		keys[i] = cacheKey(id)
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Ints64("space_ids", spaceIDs).Msg("cache invalidation failed")
	}
}
