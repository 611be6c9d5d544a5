package resilience

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jonwraymond/callguard/cache"
)

// Fallback is one alternative result provider in a chain.
type Fallback[T any] struct {
	// Name identifies the fallback in results and logs.
	Name string

	// Priority orders the chain; lower priorities are tried first.
	Priority int

	// Condition, when present, gates the fallback: false skips it.
	Condition func() bool

	// Run produces the alternative result. It runs under the same
	// cancellation signal as the primary attempt.
	Run func(ctx context.Context) (T, error)
}

// Chain is an ordered set of fallbacks tried after the primary path is
// exhausted.
type Chain[T any] struct {
	fallbacks []Fallback[T]
}

// NewChain builds a chain sorted ascending by priority. Fallbacks with
// equal priority keep their given order.
func NewChain[T any](fallbacks ...Fallback[T]) *Chain[T] {
	sorted := make([]Fallback[T], len(fallbacks))
	copy(sorted, fallbacks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return &Chain[T]{fallbacks: sorted}
}

// Len returns the number of fallbacks in the chain.
func (c *Chain[T]) Len() int {
	return len(c.fallbacks)
}

// Execute tries each fallback in priority order and returns the first
// success alongside the winning fallback's name. If every fallback fails,
// the returned error wraps ErrFallbacksExhausted and joins the primary
// error with every fallback error in attempt order.
func (c *Chain[T]) Execute(ctx context.Context, primary error) (T, string, error) {
	var zero T
	errs := []error{primary}

	for _, fb := range c.fallbacks {
		if fb.Condition != nil && !fb.Condition() {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		value, err := fb.Run(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("fallback %q: %w", fb.Name, err))
			continue
		}
		return value, fb.Name, nil
	}

	return zero, "", fmt.Errorf("%w: %w", ErrFallbacksExhausted, errors.Join(errs...))
}

// CacheFallback adapts a cache lookup into a Fallback: a hit decodes into T,
// a miss fails the fallback and lets the chain continue.
func CacheFallback[T any](c cache.Cache, key string, priority int, decode func([]byte) (T, error)) Fallback[T] {
	return Fallback[T]{
		Name:     "cache",
		Priority: priority,
		Run: func(ctx context.Context) (T, error) {
			var zero T
			raw, ok := c.Get(ctx, key)
			if !ok {
				return zero, fmt.Errorf("%w: %s", cache.ErrMiss, key)
			}
			return decode(raw)
		},
	}
}
