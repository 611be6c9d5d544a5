package classify

import (
	"errors"
	"fmt"
	"time"
)

// Error is the standardized failure surfaced by the resilience layer.
//
// Contract:
// - Ownership: Details is owned by the Error after construction.
// - Errors: Unwrap exposes the cause for errors.Is/As chains.
type Error struct {
	// Code is a short machine-readable identifier, e.g. "UPSTREAM_503".
	Code string

	// Category is the taxonomy bucket for this failure.
	Category Category

	// Retryable reports whether re-attempting the call may succeed.
	// Defaults to Category.Retryable() at construction.
	Retryable bool

	// Dependency is the dependency type the failing call targeted,
	// e.g. "market_data". May be empty for unattributed failures.
	Dependency string

	// Timestamp is when the failure was classified.
	Timestamp time.Time

	// Details carries optional structured context.
	Details map[string]any

	cause error
}

// New creates an Error with the given code, category, and cause.
// Retryable defaults from the category.
func New(code string, category Category, cause error) *Error {
	return &Error{
		Code:      code,
		Category:  category,
		Retryable: category.Retryable(),
		Timestamp: time.Now(),
		cause:     cause,
	}
}

// Convert wraps an arbitrary error into an *Error attributed to the given
// dependency, classifying it if it is not already an *Error. The timestamp
// is caller-supplied so classification stays deterministic under a fake
// clock.
func Convert(err error, dependency string, at time.Time) *Error {
	if err == nil {
		return nil
	}

	var ce *Error
	if errors.As(err, &ce) {
		out := *ce
		// When the classified error sits inside a wrapper, keep the full
		// chain as the cause so errors.Is still sees the outer sentinels.
		if wrapped, ok := err.(*Error); !ok || wrapped != ce {
			out.cause = err
		}
		if out.Dependency == "" {
			out.Dependency = dependency
		}
		if out.Timestamp.IsZero() {
			out.Timestamp = at
		}
		return &out
	}

	category := Classify(err)
	return &Error{
		Code:       category.String(),
		Category:   category,
		Retryable:  category.Retryable(),
		Dependency: dependency,
		Timestamp:  at,
		cause:      err,
	}
}

// WithDependency sets the dependency attribution and returns the error.
func (e *Error) WithDependency(dependency string) *Error {
	e.Dependency = dependency
	return e
}

// WithDetail attaches a key/value detail and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s [%s]: %v", e.Code, e.Category, e.cause)
	}
	return fmt.Sprintf("%s [%s]", e.Code, e.Category)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.cause
}
