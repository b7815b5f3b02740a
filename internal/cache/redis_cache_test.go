package cache

import (
	"context"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dapurpos/backend/internal/domain"
)

func TestNoopValuationCacheMisses(t *testing.T) {
	var c ValuationCache = NoopValuationCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, ValuationKey, &domain.ValuationReport{TotalValue: 10}, time.Minute))
	got, ok, err := c.Get(ctx, ValuationKey)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.NoError(t, c.Invalidate(ctx, ValuationKey))
}

func TestRedisValuationCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("DAPURPOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set DAPURPOS_TEST_REDIS_ADDR to run redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	c := NewRedisValuationCache(client)
	require.NoError(t, c.Ping(ctx))

	key := ValuationKey + ":test:" + time.Now().Format(time.RFC3339Nano)
	report := &domain.ValuationReport{
		GeneratedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Lines:       []domain.ValuationLine{{IngredientID: "ing-gula", CurrentStock: 10, AvgCost: 15, Value: 150}},
		TotalValue:  150,
	}
	require.NoError(t, c.Set(ctx, key, report, time.Minute))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, report.TotalValue, got.TotalValue)
	assert.True(t, report.GeneratedAt.Equal(got.GeneratedAt))

	require.NoError(t, c.Invalidate(ctx, key))
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
