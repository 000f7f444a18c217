package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"fitpos/backend/internal/domain"
)

// RedisShiftSummaryCache keeps recently computed shift summaries so the
// front-desk dashboard can poll without re-aggregating every sale. The cash
// closure engine never reads from it: closures always recompute from the
// store.
type RedisShiftSummaryCache struct {
	client *redis.Client
}

func NewRedisShiftSummaryCache(addr string, password string, db int) *RedisShiftSummaryCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisShiftSummaryCache{client: client}
}

func (c *RedisShiftSummaryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisShiftSummaryCache) Close() error {
	return c.client.Close()
}

func (c *RedisShiftSummaryCache) Get(ctx context.Context, key string) (*domain.ShiftSummary, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var summary domain.ShiftSummary
	if err := json.Unmarshal([]byte(val), &summary); err != nil {
		return nil, false, err
	}
	return &summary, true, nil
}

func (c *RedisShiftSummaryCache) Set(ctx context.Context, key string, value *domain.ShiftSummary, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
