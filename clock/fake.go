package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a manually advanced Clock for deterministic tests.
//
// Now returns the virtual time. After registers a waiter that fires when
// Advance moves the virtual time past its deadline. Sleep advances the
// virtual time immediately and returns, so backoff loops run without
// wall-clock waits while still accumulating virtual duration.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

// NewFake creates a Fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the current virtual time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After registers a waiter fired by Advance. A non-positive duration fires
// immediately.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.now
		return ch
	}

	f.waiters = append(f.waiters, fakeWaiter{at: f.now.Add(d), ch: ch})
	return ch
}

// Sleep advances the virtual clock by d and returns immediately, firing any
// waiters whose deadline is reached. Honors prior context cancellation.
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d > 0 {
		f.Advance(d)
	}
	return nil
}

// Advance moves the virtual time forward and fires every waiter whose
// deadline has been reached.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now

	var due []fakeWaiter
	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if w.at.After(now) {
			remaining = append(remaining, w)
		} else {
			due = append(due, w)
		}
	}
	f.waiters = remaining
	f.mu.Unlock()

	for _, w := range due {
		w.ch <- now
	}
}

// PendingTimers returns the number of registered waiters that have not fired.
// Tests use this to wait until a goroutine has parked on After before
// advancing.
func (f *Fake) PendingTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

var _ Clock = (*Fake)(nil)
