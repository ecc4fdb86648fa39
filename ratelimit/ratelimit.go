package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRateLimited      = errors.New("rate limited")
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Decision is the outcome of one [Limiter.Allow] call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts one attempt for key and reports whether it is within budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}
