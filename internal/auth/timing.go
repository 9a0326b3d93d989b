package auth

import (
	"context"
	"time"
)

// TimingConfig holds configuration for timing attack prevention
type TimingConfig struct {
	BaseDelayMs    int  // Base delay in milliseconds
	RandomDelayMs  int  // Random delay range in milliseconds
	DelayOnSuccess bool // If true, delay even on successful verification
}

// TimingDelay pads authentication failures so that "user not found" and
// "password incorrect" take approximately the same time
type TimingDelay struct {
	config TimingConfig
	random *RandomTokenProvider
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig, random *RandomTokenProvider) *TimingDelay {
	if random == nil {
		random = NewRandomTokenProvider(nil)
	}
	return &TimingDelay{
		config: config,
		random: random,
	}
}

// target returns baseDelay plus a random jitter
func (td *TimingDelay) target() time.Duration {
	delay := time.Duration(td.config.BaseDelayMs) * time.Millisecond
	if td.config.RandomDelayMs > 0 {
		if jitter, err := td.random.Intn(td.config.RandomDelayMs); err == nil {
			delay += time.Duration(jitter) * time.Millisecond
		}
	}
	return delay
}

// Wait applies the full delay unless the operation succeeded and
// DelayOnSuccess is off
func (td *TimingDelay) Wait(ctx context.Context, success bool) {
	if success && !td.config.DelayOnSuccess {
		return
	}
	sleepContext(ctx, td.target())
}

// WaitFrom pads elapsed time since startTime up to the target delay
func (td *TimingDelay) WaitFrom(ctx context.Context, startTime time.Time, success bool) {
	if success && !td.config.DelayOnSuccess {
		return
	}

	remaining := td.target() - time.Since(startTime)
	if remaining > 0 {
		sleepContext(ctx, remaining)
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
