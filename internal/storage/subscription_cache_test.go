package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T, ttl time.Duration) (*SubscriptionCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewSubscriptionCache(NewRedisCacheFromClient(client), ttl), mr
}

func TestSubscriptionCache_GetSet(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	if _, hit := cache.GetActive(ctx, "user-1"); hit {
		t.Error("Expected a miss on an empty cache")
	}

	cache.SetActive(ctx, "user-1", true)
	active, hit := cache.GetActive(ctx, "user-1")
	if !hit {
		t.Fatal("Expected a hit after SetActive")
	}
	if !active {
		t.Error("Expected cached state true")
	}

	cache.SetActive(ctx, "user-2", false)
	active, hit = cache.GetActive(ctx, "user-2")
	if !hit {
		t.Fatal("Expected a hit for cached inactive state")
	}
	if active {
		t.Error("Expected cached state false")
	}
}

func TestSubscriptionCache_Invalidate(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	cache.SetActive(ctx, "user-1", true)
	cache.SetActive(ctx, "user-2", true)
	cache.SetActive(ctx, "user-3", true)

	cache.Invalidate(ctx, "user-1", "user-2")

	if _, hit := cache.GetActive(ctx, "user-1"); hit {
		t.Error("Expected user-1 invalidated")
	}
	if _, hit := cache.GetActive(ctx, "user-2"); hit {
		t.Error("Expected user-2 invalidated")
	}
	if _, hit := cache.GetActive(ctx, "user-3"); !hit {
		t.Error("Expected user-3 untouched")
	}
}

func TestSubscriptionCache_TTLExpiry(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	cache.SetActive(ctx, "user-1", true)
	mr.FastForward(2 * time.Minute)

	if _, hit := cache.GetActive(ctx, "user-1"); hit {
		t.Error("Expected entry to expire after the TTL")
	}
}

// A nil cache is a no-op: callers never branch on cache availability
func TestSubscriptionCache_NilSafe(t *testing.T) {
	var cache *SubscriptionCache
	ctx := context.Background()

	if _, hit := cache.GetActive(ctx, "user-1"); hit {
		t.Error("Expected nil cache to always miss")
	}
	cache.SetActive(ctx, "user-1", true)
	cache.Invalidate(ctx, "user-1")
}

func TestSubscriptionCache_RedisDownIsAMiss(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	cache.SetActive(ctx, "user-1", true)
	mr.Close()

	if _, hit := cache.GetActive(ctx, "user-1"); hit {
		t.Error("Expected unreachable Redis to read as a miss")
	}
}
