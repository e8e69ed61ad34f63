package peer

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit configures one endpoint's token bucket.
type RateLimit struct {
	PerMinute int
	Burst     int
}

// DefaultReadLimit is the public read endpoint allowance.
var DefaultReadLimit = RateLimit{PerMinute: 60, Burst: 10}

// RateLimiter keeps per-endpoint token buckets keyed by peer identity or
// client address. Buckets live in memory on the monotonic clock; idle keys
// are swept periodically.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[string]RateLimit
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter constructs a limiter with per-endpoint configuration.
// Endpoints without an entry fall back to the default read limit.
func NewRateLimiter(limits map[string]RateLimit) *RateLimiter {
	return &RateLimiter{
		limits:  limits,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether the caller identified by key may hit the endpoint
// now.
func (rl *RateLimiter) Allow(endpoint string, key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit, found := rl.limits[endpoint]
	if !found {
		limit = DefaultReadLimit
	}

	id := endpoint + "|" + key
	b, found := rl.buckets[id]
	if !found {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Limit(float64(limit.PerMinute)/60), limit.Burst),
		}
		rl.buckets[id] = b
	}
	b.lastSeen = time.Now()

	return b.limiter.Allow()
}

// Sweep drops buckets idle longer than the given age.
func (rl *RateLimiter) Sweep(olderThan time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	for id, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, id)
		}
	}
}
