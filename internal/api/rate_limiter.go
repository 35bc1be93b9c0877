package api

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// PremiumChecker answers whether a user currently has premium, used to pick
// the rate limit tier
type PremiumChecker interface {
	Active(ctx context.Context, userID string) (bool, error)
}

// RateLimiter manages per-user rate limiting for API requests. Premium users
// get the higher tier; anonymous requests are limited by remote address at
// the free tier.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex

	subscriptions PremiumChecker

	freeTierLimit    rate.Limit
	premiumTierLimit rate.Limit

	burstSize int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(subscriptions PremiumChecker, freeTierRPS, premiumTierRPS int) *RateLimiter {
	return &RateLimiter{
		limiters:         make(map[string]*rate.Limiter),
		subscriptions:    subscriptions,
		freeTierLimit:    rate.Limit(freeTierRPS),
		premiumTierLimit: rate.Limit(premiumTierRPS),
		burstSize:        10,
	}
}

// getLimiter returns the rate limiter for a key at the given limit. A cached
// limiter keeps its original limit; premium upgrades apply on the first
// request after the cache entry ages out of the limiter map, which never
// shrinks within a process lifetime.
func (rl *RateLimiter) getLimiter(key string, limit rate.Limit) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, exists := rl.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(limit, rl.burstSize)
	rl.limiters[key] = limiter

	return limiter
}

// limitFor determines the rate limit tier for a request
func (rl *RateLimiter) limitFor(r *http.Request) (key string, limit rate.Limit) {
	id := userID(r)
	if id == "" {
		return r.RemoteAddr, rl.freeTierLimit
	}

	if rl.subscriptions != nil {
		if active, err := rl.subscriptions.Active(r.Context(), id); err == nil && active {
			return "premium:" + id, rl.premiumTierLimit
		}
	}

	return "free:" + id, rl.freeTierLimit
}

// RateLimitMiddleware creates a middleware that enforces rate limiting
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, limit := rl.limitFor(r)

			limiter := rl.getLimiter(key, limit)
			if !limiter.Allow() {
				respondError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded. Please try again later.", map[string]interface{}{
					"limit": limiter.Limit(),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
