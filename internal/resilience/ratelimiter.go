package resilience

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// RateLimiter is a token bucket with a secondary fixed-window cap: the
// window count resets once windowDur has passed since the window began.
// ewig's Engine.Sync spends one token per sync round.
type RateLimiter struct {
	mu           sync.Mutex
	capacity     int64
	fillRate     float64
	available    float64
	lastRefill   time.Time
	windowStart  time.Time
	windowDur    time.Duration
	windowCount  int64
	maxPerWindow int64

	drops metric.Int64Counter
}

// NewRateLimiter creates a combined token bucket + fixed window limiter.
func NewRateLimiter(meter metric.Meter, capacity int64, fillRate float64, windowDur time.Duration, maxPerWindow int64) *RateLimiter {
	var drops metric.Int64Counter
	if meter != nil {
		drops, _ = meter.Int64Counter("ewig_resilience_ratelimiter_drops_total")
	}
	return &RateLimiter{
		capacity:     capacity,
		fillRate:     fillRate,
		available:    float64(capacity),
		lastRefill:   time.Now(),
		windowStart:  time.Now(),
		windowDur:    windowDur,
		maxPerWindow: maxPerWindow,
		drops:        drops,
	}
}

// Allow reports whether one token can be consumed now.
func (r *RateLimiter) Allow() bool { return r.AllowN(1) }

// AllowN attempts to consume n tokens.
func (r *RateLimiter) AllowN(n int64) bool {
	if n <= 0 {
		return true
	}
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if elapsed := now.Sub(r.lastRefill).Seconds(); elapsed > 0 {
		if refill := elapsed * r.fillRate; refill > 0 {
			r.available = minFloat(float64(r.capacity), r.available+refill)
			r.lastRefill = now
		}
	}

	if now.Sub(r.windowStart) >= r.windowDur {
		r.windowStart = now
		r.windowCount = 0
	}

	if r.maxPerWindow > 0 && r.windowCount+n > r.maxPerWindow {
		r.drop()
		return false
	}

	if float64(n) <= r.available {
		r.available -= float64(n)
		r.windowCount += n
		return true
	}
	r.drop()
	return false
}

func (r *RateLimiter) drop() {
	if r.drops != nil {
		r.drops.Add(context.Background(), 1)
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
