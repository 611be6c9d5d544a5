package classify

// Category is the classification of a dependency-call failure.
type Category int

const (
	// CategoryUnknown is the classification for unrecognized failures.
	CategoryUnknown Category = iota
	// CategoryTimeout indicates the call exceeded its time budget.
	CategoryTimeout
	// CategoryRateLimit indicates the dependency rejected the call for
	// exceeding a rate ceiling.
	CategoryRateLimit
	// CategoryNetwork indicates a transport-level failure.
	CategoryNetwork
	// CategoryServerError indicates the dependency failed internally.
	CategoryServerError
	// CategoryClientError indicates the call itself was malformed.
	CategoryClientError
	// CategoryValidation indicates the call payload failed validation.
	CategoryValidation
	// CategoryCircuitOpen indicates the call was rejected locally by an
	// open circuit breaker without reaching the dependency.
	CategoryCircuitOpen
)

// String returns the wire representation of the category.
func (c Category) String() string {
	switch c {
	case CategoryTimeout:
		return "TIMEOUT"
	case CategoryRateLimit:
		return "RATE_LIMIT"
	case CategoryNetwork:
		return "NETWORK"
	case CategoryServerError:
		return "SERVER_ERROR"
	case CategoryClientError:
		return "CLIENT_ERROR"
	case CategoryValidation:
		return "VALIDATION"
	case CategoryCircuitOpen:
		return "CIRCUIT_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Retryable reports whether re-attempting a call that failed with this
// category has a reasonable chance of succeeding.
func (c Category) Retryable() bool {
	switch c {
	case CategoryTimeout, CategoryRateLimit, CategoryNetwork, CategoryServerError:
		return true
	default:
		return false
	}
}

// CountsAsFailure reports whether this category counts toward a circuit
// breaker's failure threshold. Bad calls (ClientError, Validation) do not
// mark the dependency unhealthy, and CircuitOpen is synthesized locally
// without invoking the dependency at all.
func (c Category) CountsAsFailure() bool {
	switch c {
	case CategoryClientError, CategoryValidation, CategoryCircuitOpen:
		return false
	default:
		return true
	}
}
