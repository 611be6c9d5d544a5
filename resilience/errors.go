package resilience

import "errors"

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call
	// without invoking the operation.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrRetriesExhausted is returned when every retry attempt failed.
	ErrRetriesExhausted = errors.New("resilience: retries exhausted")

	// ErrFallbacksExhausted is returned when every fallback in a chain
	// failed after the primary path failed.
	ErrFallbacksExhausted = errors.New("resilience: all fallbacks failed")

	// ErrTimeout is returned when the protected path exceeds its overall
	// time budget.
	ErrTimeout = errors.New("resilience: operation timed out")

	// ErrDegraded is returned when degraded mode sheds a primary attempt.
	ErrDegraded = errors.New("resilience: primary shed by degraded mode")

	// ErrRateLimited is returned when the local rate limiter rejects a
	// call before it reaches the dependency.
	ErrRateLimited = errors.New("resilience: rate limit exceeded")

	// ErrBulkheadFull is returned when the per-key concurrency cap rejects
	// a call.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrInvalidLevel is returned for degraded-mode levels outside (0, 1].
	ErrInvalidLevel = errors.New("resilience: degraded level must be in (0, 1]")

	// ErrInvalidConfig is returned when a resolved configuration fails
	// validation.
	ErrInvalidConfig = errors.New("resilience: invalid configuration")
)
