package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/keystone/internal/auth"
)

// Result is the outcome of a single rate-limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // zero when allowed
}

// Rule is a limit applied to one route class
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
	// SkipSuccessful releases the hit again when the request succeeds
	SkipSuccessful bool
}

// FixedWindowLimiter counts hits per key in fixed windows. A burst right
// after a window resets is allowed.
type FixedWindowLimiter struct {
	store WindowStore
	clock auth.Clock
}

// NewFixedWindowLimiter creates a limiter over store
func NewFixedWindowLimiter(store WindowStore, clock auth.Clock) *FixedWindowLimiter {
	if clock == nil {
		clock = auth.SystemClock{}
	}
	return &FixedWindowLimiter{store: store, clock: clock}
}

// Check records a hit for key and reports whether it is within limit
func (l *FixedWindowLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 || window <= 0 {
		return Result{}, fmt.Errorf("invalid rate limit %d per %s", limit, window)
	}

	now := l.clock.Now()
	w, err := l.store.Increment(ctx, key, now, window, limit+1)
	if err != nil {
		return Result{}, fmt.Errorf("failed to increment rate window: %w", err)
	}

	res := Result{
		Allowed:   w.Count <= limit,
		Limit:     limit,
		Remaining: limit - w.Count,
		ResetAt:   w.End,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = w.End.Sub(now)
		if res.RetryAfter < 0 {
			res.RetryAfter = 0
		}
	}
	return res, nil
}

// CheckRule is Check with the limit and window taken from rule
func (l *FixedWindowLimiter) CheckRule(ctx context.Context, rule Rule, key string) (Result, error) {
	return l.Check(ctx, rule.Name+":"+key, rule.Limit, rule.Window)
}

// Release undoes one hit for key
func (l *FixedWindowLimiter) Release(ctx context.Context, key string) error {
	return l.store.Decrement(ctx, key)
}

// ReleaseRule is Release for a rule-scoped key
func (l *FixedWindowLimiter) ReleaseRule(ctx context.Context, rule Rule, key string) error {
	return l.Release(ctx, rule.Name+":"+key)
}

// Cleanup removes expired windows from the store
func (l *FixedWindowLimiter) Cleanup(ctx context.Context) (int, error) {
	return l.store.Sweep(ctx, l.clock.Now())
}
