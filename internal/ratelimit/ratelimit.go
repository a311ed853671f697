// Package ratelimit throttles expensive per-user operations.
//
// MemoryLimiter keeps a token bucket per key inside one process.
// RedisLimiter shares the same budget across every replica pointed at
// the same Redis. Both satisfy Limiter.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// RetryAfter is how long the caller should wait before the next attempt
	// can succeed. Zero when Allowed.
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow consumes one unit of budget for key.
	// The key is opaque; callers construct it (e.g. "start:<user uuid>").
	// Returning an error signals a limiter malfunction; callers treat
	// errors as fail-open rather than blocking traffic.
	Allow(ctx context.Context, key string) (Decision, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always permits.
func (NoopLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: true}, nil
}

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
