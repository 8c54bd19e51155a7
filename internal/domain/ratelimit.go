package domain

import (
	"context"
	"time"
)

type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole number of seconds a rejected caller should wait.
func (d RateLimitDecision) RetryAfter(now time.Time) int64 {
	if d.ResetAt.IsZero() {
		return 0
	}
	wait := int64(d.ResetAt.Sub(now).Seconds())
	if wait < 0 {
		return 0
	}
	return wait
}

// RateLimiter guards the RPC surface. It never sees validation payloads.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateLimitDecision, error)
}
