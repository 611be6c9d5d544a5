package health

import "errors"

var (
	// ErrProbeNotFound is returned when a named probe is not registered.
	ErrProbeNotFound = errors.New("probe not found")

	// ErrProbeTimeout is recorded when a probe exceeds its time budget.
	ErrProbeTimeout = errors.New("probe timed out")
)
