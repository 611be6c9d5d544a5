package resilience

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/callguard/classify"
	"github.com/jonwraymond/callguard/clock"
	"github.com/jonwraymond/callguard/health"
	"github.com/jonwraymond/callguard/metrics"
	"github.com/jonwraymond/callguard/telemetry"
)

// Request describes one protected dependency call.
type Request[T any] struct {
	// Type selects the configuration defaults.
	Type DependencyType

	// Key identifies the dependency instance; circuit breaker and health
	// state are scoped to it. Defaults to the type name.
	Key string

	// Operation names the call for metrics and traces. Defaults to "call".
	Operation string

	// Run is the operation to protect. It must be safe to invoke more
	// than once: the executor retries it, and idempotency of the wrapped
	// call is the collaborator's responsibility.
	Run func(ctx context.Context) (T, error)

	// Fallbacks are tried in ascending priority order after the primary
	// path is exhausted.
	Fallbacks []Fallback[T]

	// Timeout overrides the configured overall time budget when positive.
	Timeout time.Duration

	// Retry overrides the configured retry policy when non-nil.
	Retry *RetryPolicy

	// DisableRetry makes exactly one primary attempt.
	DisableRetry bool

	// DisableCircuitBreaker bypasses the per-key breaker.
	DisableCircuitBreaker bool

	// DisableFallback skips the fallback chain on failure.
	DisableFallback bool
}

// Result is the outcome of a protected call. The caller always receives
// either usable data (UsedFallback tells provenance) or a classified error;
// a circuit trip is reported here, never surfaced as a panic or a fatal
// condition.
type Result[T any] struct {
	Success      bool
	Data         T
	Err          *classify.Error
	UsedFallback string
	Attempts     int
	Duration     time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithClock sets the time source. Default: the system clock.
func WithClock(clk clock.Clock) ExecutorOption {
	return func(e *Executor) { e.clock = clk }
}

// WithRandom sets the randomness source for jitter and degraded-mode
// sampling. Default: the shared system source.
func WithRandom(rnd clock.Random) ExecutorOption {
	return func(e *Executor) { e.rand = rnd }
}

// WithConfigRegistry sets the per-type configuration defaults.
func WithConfigRegistry(reg *ConfigRegistry) ExecutorOption {
	return func(e *Executor) { e.configs = reg }
}

// WithHealthMonitor sets the health monitor outcomes are recorded into.
func WithHealthMonitor(m *health.Monitor) ExecutorOption {
	return func(e *Executor) { e.health = m }
}

// WithMetricsRecorder sets the metrics recorder.
func WithMetricsRecorder(r *metrics.Recorder) ExecutorOption {
	return func(e *Executor) { e.metrics = r }
}

// WithDegradeController sets the degraded-mode controller.
func WithDegradeController(d *DegradeController) ExecutorOption {
	return func(e *Executor) { e.degrade = d }
}

// WithLogger sets the structured logger for call lifecycle events.
func WithLogger(l telemetry.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithTracer sets the tracer wrapping each call in a span.
func WithTracer(t telemetry.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// Executor composes the resilience policies around dependency calls. It
// owns the per-key circuit breakers and bulkheads, the per-type rate
// limiters, and the health/metrics sinks, so isolated instances can be
// created per test run instead of sharing process-wide state.
type Executor struct {
	configs *ConfigRegistry
	clock   clock.Clock
	rand    clock.Random
	health  *health.Monitor
	metrics *metrics.Recorder
	degrade *DegradeController
	logger  telemetry.Logger
	tracer  telemetry.Tracer

	mu        sync.Mutex
	breakers  map[string]*CircuitBreaker
	bulkheads map[string]*Bulkhead
	limiters  map[DependencyType]*RateLimiter
}

// NewExecutor creates an executor. Every collaborator is optional and
// defaults to an isolated instance: system clock and random source,
// built-in config defaults, fresh health monitor, no-op metrics, logging,
// and tracing.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		breakers:  make(map[string]*CircuitBreaker),
		bulkheads: make(map[string]*Bulkhead),
		limiters:  make(map[DependencyType]*RateLimiter),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.clock == nil {
		e.clock = clock.System()
	}
	if e.rand == nil {
		e.rand = clock.SystemRandom()
	}
	if e.configs == nil {
		e.configs = DefaultRegistry()
	}
	if e.health == nil {
		e.health = health.NewMonitor(health.MonitorConfig{Now: e.clock.Now})
	}
	if e.metrics == nil {
		e.metrics = metrics.NewNoop()
	}
	if e.degrade == nil {
		e.degrade = NewDegradeController(e.rand)
	}
	if e.logger == nil {
		e.logger = telemetry.NewNopLogger()
	}
	if e.tracer == nil {
		e.tracer = telemetry.NewNopTracer()
	}

	return e
}

// resultHolder synchronizes the value handoff between an attempt goroutine
// and the caller, since a timed-out attempt may still complete later.
type resultHolder[T any] struct {
	mu  sync.Mutex
	v   T
	set bool
}

func (h *resultHolder[T]) store(v T) {
	h.mu.Lock()
	h.v = v
	h.set = true
	h.mu.Unlock()
}

func (h *resultHolder[T]) load() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.v, h.set
}

// Do runs one protected dependency call through the executor.
//
// The pipeline is: effective config resolution, degraded-mode admission,
// overall-timeout race around the breaker-gated retry loop (local rate and
// concurrency ceilings applied before the breaker), then the fallback chain
// on terminal failure. The outcome is recorded into the health monitor and
// metrics recorder before returning.
func Do[T any](ctx context.Context, e *Executor, req Request[T]) Result[T] {
	start := e.clock.Now()

	if req.Key == "" {
		req.Key = req.Type.String()
	}
	if req.Operation == "" {
		req.Operation = "call"
	}

	meta := telemetry.CallMeta{
		Dependency: req.Type.String(),
		Key:        req.Key,
		Operation:  req.Operation,
	}
	ctx, span := e.tracer.StartCall(ctx, meta)
	logger := e.logger.WithCall(meta)

	cfg, err := e.effectiveConfig(req.Type, req.Timeout, req.Retry)
	if err != nil {
		ce := classify.New("INVALID_CONFIG", classify.CategoryValidation, err).
			WithDependency(req.Type.String())
		e.tracer.EndCall(span, ce)
		return Result[T]{Err: ce, Duration: e.clock.Now().Sub(start)}
	}

	var (
		holder     resultHolder[T]
		attempts   atomic.Int32
		opAttempted atomic.Bool
		shed       bool
	)

	var primaryErr error
	if !e.degrade.Admit(req.Type) {
		shed = true
		primaryErr = classify.New("DEGRADED", classify.CategoryUnknown, ErrDegraded).
			WithDependency(req.Type.String())
		logger.Debug(ctx, "primary shed by degraded mode")
	} else {
		primaryErr = runPrimary(ctx, e, cfg, req, &holder, &attempts, &opAttempted, logger)
	}

	res := Result[T]{Attempts: int(attempts.Load())}

	if primaryErr == nil {
		res.Data, _ = holder.load()
		res.Success = true
	} else if !req.DisableFallback && len(req.Fallbacks) > 0 {
		chain := NewChain(req.Fallbacks...)
		if data, name, ferr := chain.Execute(ctx, primaryErr); ferr == nil {
			res.Data = data
			res.UsedFallback = name
			res.Success = true
			logger.Info(ctx, "fallback produced result",
				telemetry.Field{Key: "fallback", Value: name},
				telemetry.Field{Key: "primary_error", Value: primaryErr.Error()})
		} else {
			primaryErr = ferr
		}
	}

	res.Duration = e.clock.Now().Sub(start)

	if !res.Success {
		res.Err = e.terminal(primaryErr, req.Type)
		logger.Error(ctx, "dependency call failed",
			telemetry.Field{Key: "category", Value: res.Err.Category.String()},
			telemetry.Field{Key: "attempts", Value: res.Attempts},
			telemetry.Field{Key: "error", Value: res.Err.Error()})
	}

	// Health tracks real dependency outcomes: shed calls and pure
	// circuit-open rejections never invoked the operation, and a fallback
	// rescue must not mask primary unhealth.
	if opAttempted.Load() {
		primaryOK := res.Success && res.UsedFallback == ""
		e.health.RecordOutcome(req.Key, primaryOK, res.Duration)
	}

	var recordErr error
	if res.Err != nil {
		recordErr = res.Err
	}
	e.metrics.RecordCall(ctx, metrics.Call{
		Dependency:   req.Type.String(),
		Key:          req.Key,
		Operation:    req.Operation,
		Duration:     res.Duration,
		Err:          recordErr,
		UsedFallback: res.UsedFallback,
		Attempts:     res.Attempts,
		Shed:         shed,
	})

	e.tracer.EndCall(span, recordErr)
	return res
}

// runPrimary drives the breaker-gated retry loop under the overall timeout.
func runPrimary[T any](
	ctx context.Context,
	e *Executor,
	cfg Config,
	req Request[T],
	holder *resultHolder[T],
	attempts *atomic.Int32,
	opAttempted *atomic.Bool,
	logger telemetry.Logger,
) error {
	limiter := e.limiterFor(req.Type, cfg)
	bulkhead := e.bulkheadFor(req.Key, cfg)

	var breaker *CircuitBreaker
	if !req.DisableCircuitBreaker {
		breaker = e.breakerFor(req.Key, cfg.Breaker, logger)
	}

	run := func(ctx context.Context) error {
		opAttempted.Store(true)
		v, err := req.Run(ctx)
		if err == nil {
			holder.store(v)
		}
		return err
	}

	perAttempt := func(ctx context.Context) error {
		attempts.Add(1)

		if limiter != nil && !limiter.Allow() {
			return classify.New("RATE_LIMITED", classify.CategoryRateLimit, ErrRateLimited).
				WithDependency(req.Type.String())
		}

		exec := run
		if breaker != nil {
			exec = func(ctx context.Context) error {
				return breaker.Execute(ctx, run)
			}
		}

		var err error
		if bulkhead != nil {
			err = bulkhead.Execute(ctx, exec)
		} else {
			err = exec(ctx)
		}

		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrCircuitOpen):
			return classify.New("CIRCUIT_OPEN", classify.CategoryCircuitOpen, err).
				WithDependency(req.Type.String())
		case errors.Is(err, ErrBulkheadFull):
			return classify.New("BULKHEAD_FULL", classify.CategoryRateLimit, err).
				WithDependency(req.Type.String())
		default:
			return err
		}
	}

	pipeline := func(ctx context.Context) error {
		if req.DisableRetry {
			return perAttempt(ctx)
		}

		retryer := NewRetry(cfg.Retry,
			WithRetryClock(e.clock),
			WithRetryRandom(e.rand),
			WithOnRetry(func(attempt int, err error, delay time.Duration) {
				logger.Debug(ctx, "retrying dependency call",
					telemetry.Field{Key: "attempt", Value: attempt},
					telemetry.Field{Key: "delay_ms", Value: delay.Milliseconds()},
					telemetry.Field{Key: "error", Value: err.Error()})
			}),
		)
		_, err := retryer.Execute(ctx, perAttempt)
		return err
	}

	err := NewTimeout(cfg.Timeouts.Overall, e.clock).Execute(ctx, pipeline)
	if errors.Is(err, ErrTimeout) {
		return classify.New("TIMEOUT", classify.CategoryTimeout, err).
			WithDependency(req.Type.String())
	}
	return err
}

// terminal converts the exhausted primary/fallback error into the
// standardized error handed to the caller. Retryable is cleared:
// everything available has already been tried.
func (e *Executor) terminal(err error, t DependencyType) *classify.Error {
	ce := classify.Convert(err, t.String(), e.clock.Now())
	ce.Retryable = false
	return ce
}

func (e *Executor) effectiveConfig(t DependencyType, timeout time.Duration, retry *RetryPolicy) (Config, error) {
	cfg := e.configs.For(t)
	if timeout > 0 {
		cfg.Timeouts.Overall = timeout
	}
	if retry != nil {
		cfg.Retry = *retry
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (e *Executor) breakerFor(key string, cfg BreakerConfig, logger telemetry.Logger) *CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[key]; ok {
		return cb
	}

	cb := NewCircuitBreaker(cfg,
		WithBreakerClock(e.clock),
		WithFailureCheck(func(err error) bool {
			return err != nil && classify.CountsAsFailure(err)
		}),
		WithStateChange(func(from, to State) {
			logger.Warn(context.Background(), "circuit state changed",
				telemetry.Field{Key: "key", Value: key},
				telemetry.Field{Key: "from", Value: from.String()},
				telemetry.Field{Key: "to", Value: to.String()})
		}),
	)
	e.breakers[key] = cb
	return cb
}

func (e *Executor) bulkheadFor(key string, cfg Config) *Bulkhead {
	if cfg.MaxConcurrent <= 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if bh, ok := e.bulkheads[key]; ok {
		return bh
	}

	bh := NewBulkhead(BulkheadConfig{MaxConcurrent: cfg.MaxConcurrent}, e.clock)
	e.bulkheads[key] = bh
	return bh
}

func (e *Executor) limiterFor(t DependencyType, cfg Config) *RateLimiter {
	if cfg.Rate <= 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if rl, ok := e.limiters[t]; ok {
		return rl
	}

	rl := NewRateLimiter(RateLimiterConfig{Rate: cfg.Rate, Burst: cfg.Burst}, e.clock)
	e.limiters[t] = rl
	return rl
}

// HealthStatus is the composed health view for one dependency key.
type HealthStatus struct {
	Key                  string
	Healthy              bool
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	CircuitState         State
	ErrorRate            float64
	LatencyP50           time.Duration
	LatencyP95           time.Duration
	LatencyP99           time.Duration
	LastCheck            time.Time
}

// Health returns the health view for a key, composing monitor statistics
// with the key's circuit state.
func (e *Executor) Health(key string) (HealthStatus, bool) {
	stats, ok := e.health.Snapshot(key)
	if !ok {
		return HealthStatus{}, false
	}
	return e.composeHealth(stats), true
}

// AllHealth returns the health view for every recorded key, sorted by key.
func (e *Executor) AllHealth() []HealthStatus {
	all := e.health.Snapshots()
	statuses := make([]HealthStatus, 0, len(all))
	for _, stats := range all {
		statuses = append(statuses, e.composeHealth(stats))
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Key < statuses[j].Key
	})
	return statuses
}

func (e *Executor) composeHealth(stats health.Stats) HealthStatus {
	state := StateClosed
	e.mu.Lock()
	cb := e.breakers[stats.Key]
	e.mu.Unlock()
	if cb != nil {
		state = cb.State()
	}

	return HealthStatus{
		Key:                  stats.Key,
		Healthy:              state != StateOpen && stats.ConsecutiveFailures < e.health.UnhealthyThreshold(),
		ConsecutiveFailures:  stats.ConsecutiveFailures,
		ConsecutiveSuccesses: stats.ConsecutiveSuccesses,
		CircuitState:         state,
		ErrorRate:            stats.ErrorRate,
		LatencyP50:           stats.P50,
		LatencyP95:           stats.P95,
		LatencyP99:           stats.P99,
		LastCheck:            stats.LastCheck,
	}
}

// CircuitStatus returns the breaker snapshot for a key, if one exists.
func (e *Executor) CircuitStatus(key string) (CircuitStatus, bool) {
	e.mu.Lock()
	cb := e.breakers[key]
	e.mu.Unlock()

	if cb == nil {
		return CircuitStatus{}, false
	}
	return cb.Status(), true
}

// ResetCircuit forces a key's breaker back to closed. Returns false when no
// breaker exists for the key. Administrative use only.
func (e *Executor) ResetCircuit(key string) bool {
	e.mu.Lock()
	cb := e.breakers[key]
	e.mu.Unlock()

	if cb == nil {
		return false
	}
	cb.Reset()
	return true
}

// EnterDegradedMode sheds primary traffic for a dependency type at the
// given capacity level in (0, 1].
func (e *Executor) EnterDegradedMode(t DependencyType, level float64) error {
	return e.degrade.Enter(t, level)
}

// ExitDegradedMode restores full primary traffic for a dependency type.
func (e *Executor) ExitDegradedMode(t DependencyType) {
	e.degrade.Exit(t)
}

// IsDegraded reports whether a dependency type is in degraded mode.
func (e *Executor) IsDegraded(t DependencyType) bool {
	return e.degrade.IsDegraded(t)
}

// HealthMonitor exposes the executor's health monitor, e.g. for wiring a
// probe runner or an HTTP handler.
func (e *Executor) HealthMonitor() *health.Monitor {
	return e.health
}

// Metrics returns the recorded summary for a key and operation.
func (e *Executor) Metrics(key, operation string) (metrics.Summary, bool) {
	return e.metrics.Snapshot(key, operation)
}
