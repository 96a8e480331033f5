package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a single-token bucket refilled at a fixed per-minute rate.
// Capacity one paces calls evenly instead of allowing bursts.
type RateLimiter struct {
	mu     sync.Mutex
	rate   float64 // tokens per second
	tokens float64
	last   time.Time
}

// NewRateLimiter allows perMinute calls per minute. A non-positive rate is
// treated as one call per second.
func NewRateLimiter(perMinute int) *RateLimiter {
	rate := float64(perMinute) / 60
	if rate <= 0 {
		rate = 1
	}
	return &RateLimiter{rate: rate, tokens: 1, last: time.Now()}
}

// Wait blocks until a token is available or ctx is cancelled. The wait is
// sized to the bucket's refill time rather than polled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := time.Now()
		r.tokens += now.Sub(r.last).Seconds() * r.rate
		if r.tokens > 1 {
			r.tokens = 1
		}
		r.last = now
		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - r.tokens) / r.rate * float64(time.Second))
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
