// Package classify provides the standardized error taxonomy for dependency
// calls.
//
// Every failure that crosses the resilience layer is mapped to a Category.
// The category decides two things downstream: whether a retry has a
// reasonable chance of succeeding, and whether the failure counts toward a
// circuit breaker's failure threshold. Client-side mistakes (ClientError,
// Validation) do neither; they indicate a bad call, not an unhealthy
// dependency.
//
// Callers that already know the category wrap their errors in *Error.
// Everything else is classified heuristically by Classify: context
// deadlines, net errors, and HTTP status codes exposed via a
// StatusCode() int method.
//
//	err := classify.New("UPSTREAM_503", classify.CategoryServerError, cause)
//	if classify.Retryable(err) {
//	    // safe to re-attempt
//	}
package classify
