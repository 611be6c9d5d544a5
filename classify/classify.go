package classify

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// StatusCoder is implemented by errors that carry an HTTP status code.
// Both the stdlib-style StatusCode() and common client libraries' shapes
// reduce to this.
type StatusCoder interface {
	StatusCode() int
}

// Classify maps an error to its Category.
//
// Precedence: an explicit *Error wins; then context deadline, net errors,
// and HTTP status codes; everything else is CategoryUnknown.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		return FromHTTPStatus(sc.StatusCode())
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}

	return CategoryUnknown
}

// FromHTTPStatus maps an HTTP status code to a Category.
func FromHTTPStatus(status int) Category {
	switch {
	case status == http.StatusTooManyRequests:
		return CategoryRateLimit
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return CategoryTimeout
	case status == http.StatusUnprocessableEntity:
		return CategoryValidation
	case status >= 500:
		return CategoryServerError
	case status >= 400:
		return CategoryClientError
	default:
		return CategoryUnknown
	}
}

// Retryable reports whether the error may be retried. An explicit *Error
// carries its own flag; otherwise the classified category decides.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retryable
	}

	return Classify(err).Retryable()
}

// CountsAsFailure reports whether the error should count toward circuit
// breaker failure thresholds.
func CountsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).CountsAsFailure()
}
