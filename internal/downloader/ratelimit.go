package downloader

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces extractor launches process-wide. Waiters are served in
// arrival order.
type RateLimiter struct {
	interval time.Duration
	limiter  *rate.Limiter
}

// NewRateLimiter allows one launch per interval. A zero interval disables pacing.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &RateLimiter{
		interval: interval,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Acquire blocks until the caller may launch, or ctx ends.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

func (l *RateLimiter) Interval() time.Duration {
	return l.interval
}
