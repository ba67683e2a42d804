package port

import (
	"context"
	"time"

	"github.com/rl1809/saleszy/internal/core/domain"
)

type CacheRepository interface {
	// GetUnlockedUntil returns the cached expiry for the tier, ok is false on a miss
	GetUnlockedUntil(ctx context.Context, businessID string, tier domain.Tier) (until time.Time, ok bool, err error)

	// ExtendUnlockedUntil caches until unless a later expiry is already cached
	ExtendUnlockedUntil(ctx context.Context, businessID string, tier domain.Tier, until time.Time) error
}
