package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/jonwraymond/callguard/clock"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is rejecting all requests.
	StateOpen
	// StateHalfOpen means the circuit is probing whether the dependency
	// recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerClock sets the time source. Default: the system clock.
func WithBreakerClock(clk clock.Clock) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.clock = clk
	}
}

// WithFailureCheck sets the predicate deciding whether an operation error
// counts toward the failure threshold. Default: every non-nil error counts.
func WithFailureCheck(fn func(err error) bool) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.isFailure = fn
	}
}

// WithStateChange sets a hook invoked after every state transition.
// The hook runs while the breaker lock is held; keep it cheap.
func WithStateChange(fn func(from, to State)) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

// CircuitBreaker gates calls to a single dependency key.
//
// Transitions, and the only transitions:
//
//	CLOSED    -> OPEN       consecutive counted failures reach FailureThreshold
//	OPEN      -> HALF_OPEN  cooldown elapsed; up to HalfOpenMaxCalls probes admitted
//	HALF_OPEN -> CLOSED     consecutive probe successes reach SuccessThreshold
//	HALF_OPEN -> OPEN       any probe failure; cooldown restarts from now
//
// All mutable state is guarded by a single mutex; a breaker is safe for
// concurrent use and never terminates.
type CircuitBreaker struct {
	config        BreakerConfig
	clock         clock.Clock
	isFailure     func(err error) bool
	onStateChange func(from, to State)

	mu             sync.Mutex
	state          State
	failures       int
	successes      int
	inFlightProbes int
	lastFailure    time.Time
	nextAttempt    time.Time

	// Lifetime outcome totals for failure-rate reporting.
	totalFailures  int64
	totalSuccesses int64
}

// CircuitStatus is a point-in-time snapshot of a breaker.
type CircuitStatus struct {
	State          State
	Failures       int
	Successes      int
	InFlightProbes int
	LastFailure    time.Time
	NextAttempt    time.Time

	// FailureRate is lifetime failures / (failures + successes);
	// zero when nothing has completed yet.
	FailureRate float64
}

// NewCircuitBreaker creates a circuit breaker with the given configuration.
// Zero config fields get defaults: FailureThreshold 5, SuccessThreshold 2,
// HalfOpenMaxCalls 1, ResetTimeout 30s.
func NewCircuitBreaker(config BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 1
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}

	cb := &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	if cb.clock == nil {
		cb.clock = clock.System()
	}
	if cb.isFailure == nil {
		cb.isFailure = func(err error) bool { return err != nil }
	}

	return cb
}

// Execute runs the operation through the circuit breaker. When the circuit
// is open and the cooldown has not elapsed, it fails fast with
// ErrCircuitOpen without invoking op.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	probe, err := cb.beforeRequest()
	if err != nil {
		return err
	}

	err = op(ctx)
	cb.afterRequest(probe, err)
	return err
}

// State returns the current circuit state, applying the OPEN -> HALF_OPEN
// transition if the cooldown has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

// Status returns a snapshot of the breaker's counters and state.
func (cb *CircuitBreaker) Status() CircuitStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	status := CircuitStatus{
		State:          cb.currentStateLocked(),
		Failures:       cb.failures,
		Successes:      cb.successes,
		InFlightProbes: cb.inFlightProbes,
		LastFailure:    cb.lastFailure,
		NextAttempt:    cb.nextAttempt,
	}
	if total := cb.totalFailures + cb.totalSuccesses; total > 0 {
		status.FailureRate = float64(cb.totalFailures) / float64(total)
	}
	return status
}

// Reset forces the breaker back to closed with all counters cleared.
// Administrative use only.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	old := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.inFlightProbes = 0
	cb.nextAttempt = time.Time{}

	if old != StateClosed && cb.onStateChange != nil {
		cb.onStateChange(old, StateClosed)
	}
}

// beforeRequest decides whether a call may proceed. It returns whether the
// admitted call is a half-open probe, so completion can release the slot.
func (cb *CircuitBreaker) beforeRequest() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentStateLocked() {
	case StateOpen:
		return false, ErrCircuitOpen
	case StateHalfOpen:
		if cb.inFlightProbes >= cb.config.HalfOpenMaxCalls {
			return false, ErrCircuitOpen
		}
		cb.inFlightProbes++
		return true, nil
	default:
		return false, nil
	}
}

func (cb *CircuitBreaker) afterRequest(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe && cb.inFlightProbes > 0 {
		cb.inFlightProbes--
	}

	failure := cb.isFailure(err)
	if failure {
		cb.totalFailures++
	} else {
		cb.totalSuccesses++
	}

	switch cb.state {
	case StateClosed:
		if failure {
			cb.failures++
			cb.lastFailure = cb.clock.Now()
			if cb.failures >= cb.config.FailureThreshold {
				cb.transitionLocked(StateOpen)
			}
		} else {
			cb.failures = 0
		}

	case StateHalfOpen:
		if failure {
			// Probe failed: discard probation progress and restart
			// the cooldown from now.
			cb.lastFailure = cb.clock.Now()
			cb.transitionLocked(StateOpen)
		} else {
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.transitionLocked(StateClosed)
			}
		}

	case StateOpen:
		// A probe admitted before another probe reopened the circuit.
		// Totals are recorded above; the state machine ignores it.
	}
}

func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && !cb.clock.Now().Before(cb.nextAttempt) {
		cb.transitionLocked(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	cb.state = to

	switch to {
	case StateOpen:
		cb.nextAttempt = cb.clock.Now().Add(cb.config.ResetTimeout)
		cb.failures = 0
		cb.successes = 0
	case StateHalfOpen:
		cb.successes = 0
		cb.inFlightProbes = 0
	case StateClosed:
		cb.failures = 0
		cb.successes = 0
		cb.inFlightProbes = 0
		cb.nextAttempt = time.Time{}
	}

	if from != to && cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}
