package resilience

import (
	"context"
	"time"

	"github.com/jonwraymond/callguard/clock"
)

// Timeout races an operation against a time budget on the injected clock.
type Timeout struct {
	budget time.Duration
	clock  clock.Clock
}

// NewTimeout creates a timeout wrapper. A nil clk falls back to the system
// clock; a non-positive budget disables the race.
func NewTimeout(budget time.Duration, clk clock.Clock) *Timeout {
	if clk == nil {
		clk = clock.System()
	}
	return &Timeout{budget: budget, clock: clk}
}

// Execute runs op, returning ErrTimeout if the budget elapses first. The
// operation's context is cancelled on timeout; a straggling operation may
// keep running briefly but its result is discarded.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	if t.budget <= 0 {
		return op(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-t.clock.After(t.budget):
		cancel()
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Budget returns the configured time budget.
func (t *Timeout) Budget() time.Duration {
	return t.budget
}
