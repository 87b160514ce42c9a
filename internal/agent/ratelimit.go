package agent

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimiter throttles chat model calls across every task sharing one
// Responder, so a burst of inbound messages cannot exceed the provider
// quota.
type RateLimiter struct {
	limiter *rate.Limiter
	perMin  float64
}

// NewRateLimiter allows burst immediate calls, refilled at perMinute.
// Non-positive values fall back to the responder defaults.
func NewRateLimiter(burst int, perMinute float64) *RateLimiter {
	if burst <= 0 {
		burst = defaultRateBurst
	}
	if perMinute <= 0 {
		perMinute = defaultRatePerMinute
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(perMinute/60), burst),
		perMin:  perMinute,
	}
}

// Wait blocks until a call may proceed. It fails at once when ctx is done
// or its deadline would pass before a slot frees up.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := rl.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("wait for chat slot: %w", err)
	}
	return nil
}

// PerMinute reports the sustained call rate.
func (rl *RateLimiter) PerMinute() float64 { return rl.perMin }

// Burst reports how many calls may run back to back.
func (rl *RateLimiter) Burst() int { return rl.limiter.Burst() }
