package cache

import (
	"context"
	"time"

	"rotikita/backend/internal/domain"
)

// SnapshotCache is a short-TTL, presentation-side cache for inventory
// results, keyed by shift window. The reconciliation core always computes
// fresh; this cache only shields the dashboard's read endpoint from bursts
// and is invalidated whenever the engine publishes a new snapshot.
type SnapshotCache interface {
	Get(ctx context.Context, key string) (*domain.InventoryResult, bool, error)
	Set(ctx context.Context, key string, value *domain.InventoryResult, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopSnapshotCache struct{}

func (NoopSnapshotCache) Get(_ context.Context, _ string) (*domain.InventoryResult, bool, error) {
	return nil, false, nil
}

func (NoopSnapshotCache) Set(_ context.Context, _ string, _ *domain.InventoryResult, _ time.Duration) error {
	return nil
}

func (NoopSnapshotCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

// WindowKey builds the cache key for a shift window.
func WindowKey(window domain.ShiftWindow) string {
	return "inventory:" + window.Date + ":" + string(window.ShiftID)
}
