package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jonwraymond/callguard/clock"
)

// RetryOption configures a Retry.
type RetryOption func(*Retry)

// WithRetryClock sets the time source for backoff sleeps.
// Default: the system clock.
func WithRetryClock(clk clock.Clock) RetryOption {
	return func(r *Retry) {
		r.clock = clk
	}
}

// WithRetryRandom sets the randomness source for jitter.
// Default: the shared system source.
func WithRetryRandom(rnd clock.Random) RetryOption {
	return func(r *Retry) {
		r.rand = rnd
	}
}

// WithOnRetry sets a hook invoked before each backoff sleep.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) RetryOption {
	return func(r *Retry) {
		r.onRetry = fn
	}
}

// Retry drives bounded, classified retries with exponential backoff.
type Retry struct {
	policy  RetryPolicy
	clock   clock.Clock
	rand    clock.Random
	onRetry func(attempt int, err error, delay time.Duration)
}

// NewRetry creates a retry driver for the given policy. Zero policy fields
// get defaults: MaxRetries 3, InitialDelay 100ms, MaxDelay 30s,
// BackoffMultiplier 2.0.
func NewRetry(policy RetryPolicy, opts ...RetryOption) *Retry {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 100 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.BackoffMultiplier <= 0 {
		policy.BackoffMultiplier = 2.0
	}

	r := &Retry{policy: policy}
	for _, opt := range opts {
		opt(r)
	}
	if r.clock == nil {
		r.clock = clock.System()
	}
	if r.rand == nil {
		r.rand = clock.SystemRandom()
	}

	return r
}

// Execute runs op up to MaxRetries+1 times, sleeping a backoff between
// attempts. It returns the number of attempts made alongside the final
// error.
//
// A non-retryable classification stops immediately. A circuit-open result
// also stops immediately: retrying against a known-dead dependency only
// burns the budget. Backoff sleeps are interruptible by ctx.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) (int, error) {
	maxAttempts := r.policy.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) {
			return attempt, err
		}
		if !r.policy.ShouldRetry(err) {
			return attempt, err
		}
		if attempt == maxAttempts {
			break
		}

		delay := r.delayFor(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt, err, delay)
		}

		if serr := r.clock.Sleep(ctx, delay); serr != nil {
			return attempt, serr
		}
	}

	return maxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, lastErr)
}

// delayFor computes the backoff before the retry following the given
// attempt: min(InitialDelay * BackoffMultiplier^(attempt-1), MaxDelay),
// plus uniform jitter in [0, delay*JitterFraction).
func (r *Retry) delayFor(attempt int) time.Duration {
	multiplier := math.Pow(r.policy.BackoffMultiplier, float64(attempt-1))
	delay := time.Duration(float64(r.policy.InitialDelay) * multiplier)

	if delay > r.policy.MaxDelay || delay <= 0 {
		delay = r.policy.MaxDelay
	}

	if r.policy.JitterFraction > 0 && delay > 0 {
		jitter := time.Duration(r.rand.Float64() * r.policy.JitterFraction * float64(delay))
		delay += jitter
	}

	return delay
}

// Policy returns the retry policy.
func (r *Retry) Policy() RetryPolicy {
	return r.policy
}
