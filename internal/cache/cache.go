package cache

import (
	"context"
	"time"

	"fitpos/backend/internal/domain"
)

type ShiftSummaryCache interface {
	Get(ctx context.Context, key string) (*domain.ShiftSummary, bool, error)
	Set(ctx context.Context, key string, value *domain.ShiftSummary, ttl time.Duration) error
}

type NoopShiftSummaryCache struct{}

func (NoopShiftSummaryCache) Get(_ context.Context, _ string) (*domain.ShiftSummary, bool, error) {
	return nil, false, nil
}

func (NoopShiftSummaryCache) Set(_ context.Context, _ string, _ *domain.ShiftSummary, _ time.Duration) error {
	return nil
}
