package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/know-me-server/internal/logging"
)

// SubscriptionCache caches per-user premium state in Redis. The authorization
// evaluator and the API rate limiter consult it on nearly every request, so
// misses fall through to Postgres and every state transition invalidates the
// key. Cache failures are logged and treated as misses.
type SubscriptionCache struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewSubscriptionCache creates a new subscription state cache
func NewSubscriptionCache(redis *RedisCache, ttl time.Duration) *SubscriptionCache {
	return &SubscriptionCache{
		redis: redis,
		ttl:   ttl,
	}
}

// activeKey builds the cache key for a user's premium state
func activeKey(userID string) string {
	return fmt.Sprintf("sub:active:%s", userID)
}

// GetActive returns the cached premium state for a user.
// The second return value reports whether the cache held an answer.
func (c *SubscriptionCache) GetActive(ctx context.Context, userID string) (bool, bool) {
	if c == nil || c.redis == nil {
		return false, false
	}

	val, err := c.redis.Get(ctx, activeKey(userID))
	if err != nil {
		if !IsNil(err) {
			logging.FromContext(ctx).WithError(err).Warn("Subscription cache read failed")
		}
		return false, false
	}

	return val == "1", true
}

// SetActive records a user's premium state
func (c *SubscriptionCache) SetActive(ctx context.Context, userID string, active bool) {
	if c == nil || c.redis == nil {
		return
	}

	val := "0"
	if active {
		val = "1"
	}

	if err := c.redis.Set(ctx, activeKey(userID), val, c.ttl); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Subscription cache write failed")
	}
}

// Invalidate drops the cached state for the given users. Called on every
// subscription state transition.
func (c *SubscriptionCache) Invalidate(ctx context.Context, userIDs ...string) {
	if c == nil || c.redis == nil || len(userIDs) == 0 {
		return
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = activeKey(id)
	}

	if err := c.redis.Delete(ctx, keys...); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Subscription cache invalidation failed")
	}
}
