package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type staticPremiumChecker struct {
	premium map[string]bool
	err     error
}

func (c *staticPremiumChecker) Active(ctx context.Context, userID string) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.premium[userID], nil
}

func TestRateLimiter_TierSelection(t *testing.T) {
	checker := &staticPremiumChecker{premium: map[string]bool{"premium-user": true}}
	rl := NewRateLimiter(checker, 10, 50)

	t.Run("premium user gets premium tier", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/know-me/subscription", nil)
		req.Header.Set(headerUserID, "premium-user")

		key, limit := rl.limitFor(req)
		assert.Equal(t, "premium:premium-user", key)
		assert.Equal(t, rate.Limit(50), limit)
	})

	t.Run("free user gets free tier", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/know-me/subscription", nil)
		req.Header.Set(headerUserID, "free-user")

		key, limit := rl.limitFor(req)
		assert.Equal(t, "free:free-user", key)
		assert.Equal(t, rate.Limit(10), limit)
	})

	t.Run("anonymous request keyed by remote address", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		key, limit := rl.limitFor(req)
		assert.Equal(t, req.RemoteAddr, key)
		assert.Equal(t, rate.Limit(10), limit)
	})
}

func TestRateLimiter_CheckerFailureFallsBackToFreeTier(t *testing.T) {
	checker := &staticPremiumChecker{err: fmt.Errorf("store unavailable")}
	rl := NewRateLimiter(checker, 10, 50)

	req := httptest.NewRequest(http.MethodGet, "/know-me/subscription", nil)
	req.Header.Set(headerUserID, "premium-user")

	key, limit := rl.limitFor(req)
	assert.Equal(t, "free:premium-user", key)
	assert.Equal(t, rate.Limit(10), limit)
}

func TestRateLimiter_LimiterReuse(t *testing.T) {
	rl := NewRateLimiter(nil, 10, 50)

	first := rl.getLimiter("free:user-1", rate.Limit(10))
	second := rl.getLimiter("free:user-1", rate.Limit(10))
	require.Same(t, first, second)

	other := rl.getLimiter("free:user-2", rate.Limit(10))
	assert.NotSame(t, first, other)
}

func TestRateLimitMiddleware_EnforcesBurst(t *testing.T) {
	rl := NewRateLimiter(&staticPremiumChecker{}, 1, 50)

	handler := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var allowed, limited int
	for i := 0; i < 15; i++ {
		req := httptest.NewRequest(http.MethodGet, "/know-me/subscription", nil)
		req.Header.Set(headerUserID, "burst-user")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		switch rec.Code {
		case http.StatusOK:
			allowed++
		case http.StatusTooManyRequests:
			limited++
		default:
			t.Fatalf("Unexpected status %d", rec.Code)
		}
	}

	// Burst size is 10, so at 1 RPS the tail of a rapid run must be rejected
	assert.GreaterOrEqual(t, allowed, 10)
	assert.Greater(t, limited, 0)
}
