package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/saleszy/internal/core/domain"
)

const (
	entitlementKeyPrefix = "entitlement:"
	defaultCacheTTL      = 10 * time.Minute
)

// extendUntilScript stores ARGV[1] (unix millis) unless a later value is
// already cached, so a slow writer can never shorten a cached expiry.
var extendUntilScript = redis.NewScript(`
local key = KEYS[1]
local expiry = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = redis.call('GET', key)
if current and tonumber(current) >= expiry then
	return 0
end

redis.call('SET', key, ARGV[1], 'PX', ttl)
return 1
`)

// RedisAdapter caches entitlement expiries. The store stays authoritative.
type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAdapter(client *redis.Client, ttl time.Duration) *RedisAdapter {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisAdapter{client: client, ttl: ttl}
}

func entitlementKey(businessID string, tier domain.Tier) string {
	return entitlementKeyPrefix + businessID + ":" + string(tier)
}

func (r *RedisAdapter) GetUnlockedUntil(ctx context.Context, businessID string, tier domain.Tier) (time.Time, bool, error) {
	val, err := r.client.Get(ctx, entitlementKey(businessID, tier)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

func (r *RedisAdapter) ExtendUnlockedUntil(ctx context.Context, businessID string, tier domain.Tier, until time.Time) error {
	ttl := r.ttl
	if remaining := time.Until(until); remaining < ttl {
		ttl = remaining
	}
	// PX rejects 0, so anything under a millisecond is already expired.
	if ttl < time.Millisecond {
		return nil
	}

	return extendUntilScript.Run(ctx, r.client,
		[]string{entitlementKey(businessID, tier)},
		until.UnixMilli(), ttl.Milliseconds(),
	).Err()
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
