package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"dapurpos/backend/internal/domain"
)

type RedisValuationCache struct {
	client *redis.Client
}

// NewRedisValuationCache uses a client owned by the caller; the same client
// backs the distributed ingredient lock.
func NewRedisValuationCache(client *redis.Client) *RedisValuationCache {
	return &RedisValuationCache{client: client}
}

func (c *RedisValuationCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisValuationCache) Get(ctx context.Context, key string) (*domain.ValuationReport, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var report domain.ValuationReport
	if err := json.Unmarshal(val, &report); err != nil {
		return nil, false, err
	}
	return &report, true, nil
}

func (c *RedisValuationCache) Set(ctx context.Context, key string, value *domain.ValuationReport, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisValuationCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
