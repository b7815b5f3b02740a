package cache

import (
	"context"
	"time"

	"dapurpos/backend/internal/domain"
)

// ValuationKey is the single key the stock valuation report is cached under.
const ValuationKey = "dapurpos:report:valuation"

type ValuationCache interface {
	Get(ctx context.Context, key string) (*domain.ValuationReport, bool, error)
	Set(ctx context.Context, key string, value *domain.ValuationReport, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopValuationCache struct{}

func (NoopValuationCache) Get(_ context.Context, _ string) (*domain.ValuationReport, bool, error) {
	return nil, false, nil
}

func (NoopValuationCache) Set(_ context.Context, _ string, _ *domain.ValuationReport, _ time.Duration) error {
	return nil
}

func (NoopValuationCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
