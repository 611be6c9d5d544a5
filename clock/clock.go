package clock

import (
	"context"
	"time"
)

// Clock is the time source used by timing-sensitive components.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - After must deliver at most one value per returned channel.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once the
	// given duration has elapsed.
	After(d time.Duration) <-chan time.Time

	// Sleep blocks until the duration elapses or the context is done.
	// Returns the context error on cancellation, nil otherwise.
	Sleep(ctx context.Context, d time.Duration) error
}

// System returns a Clock backed by the time package.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
