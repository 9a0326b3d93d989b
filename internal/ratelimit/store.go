package ratelimit

import (
	"context"
	"time"
)

// Window is the state of one fixed window for a key
type Window struct {
	Count int
	Start time.Time
	End   time.Time
}

// WindowStore holds fixed-window counters. Increments for the same key must be
// serialised by the implementation.
type WindowStore interface {
	// Increment records a hit at now. A missing window, or one whose end is
	// before now, is replaced by {1, now, now+window}. The count never grows
	// past ceiling.
	Increment(ctx context.Context, key string, now time.Time, window time.Duration, ceiling int) (Window, error)
	// Decrement undoes one hit in the current window, if any
	Decrement(ctx context.Context, key string) error
	// Sweep removes windows that ended before now and reports how many were removed
	Sweep(ctx context.Context, now time.Time) (int, error)
}
