package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Probe is an active reachability check for one dependency.
type Probe interface {
	// Name returns the dependency key the probe reports under.
	Name() string

	// Probe checks the dependency. A nil return is a healthy outcome.
	Probe(ctx context.Context) error
}

// ProbeFunc adapts an ordinary function to the Probe interface.
type ProbeFunc struct {
	name string
	fn   func(context.Context) error
}

// NewProbeFunc creates a ProbeFunc.
func NewProbeFunc(name string, fn func(context.Context) error) *ProbeFunc {
	return &ProbeFunc{name: name, fn: fn}
}

// Name returns the dependency key.
func (f *ProbeFunc) Name() string { return f.name }

// Probe runs the check.
func (f *ProbeFunc) Probe(ctx context.Context) error { return f.fn(ctx) }

// RunnerConfig configures the probe runner.
type RunnerConfig struct {
	// Interval is the delay between probe rounds.
	// Default: 30 seconds
	Interval time.Duration

	// Timeout is the per-probe time budget within a round.
	// Default: 5 seconds
	Timeout time.Duration

	// Concurrency limits how many probes run at once in a round.
	// Default: 8
	Concurrency int

	// Now is the time source for probe latency. Default: time.Now
	Now func() time.Time
}

// Runner periodically executes registered probes and records their outcomes
// into a Monitor, keeping health data fresh for dependencies that receive
// no organic traffic.
type Runner struct {
	config  RunnerConfig
	monitor *Monitor

	mu     sync.RWMutex
	probes map[string]Probe
	order  []string
}

// NewRunner creates a probe runner recording into the given monitor.
func NewRunner(monitor *Monitor, config ...RunnerConfig) *Runner {
	cfg := RunnerConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Runner{
		config:  cfg,
		monitor: monitor,
		probes:  make(map[string]Probe),
	}
}

// Register adds a probe. A probe with the same name replaces the previous one.
func (r *Runner) Register(probe Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := probe.Name()
	if _, exists := r.probes[name]; !exists {
		r.order = append(r.order, name)
	}
	r.probes[name] = probe
}

// Unregister removes a probe by name.
func (r *Runner) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.probes, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// ProbeNames returns the registered probe names in registration order.
func (r *Runner) ProbeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// RunOnce executes every registered probe once, records each outcome into
// the monitor, and returns the per-probe errors (nil values included).
func (r *Runner) RunOnce(ctx context.Context) map[string]error {
	r.mu.RLock()
	probes := make([]Probe, 0, len(r.probes))
	for _, p := range r.probes {
		probes = append(probes, p)
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(probes))
	if len(probes) == 0 {
		return results
	}

	var resMu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)

	for _, p := range probes {
		probe := p
		g.Go(func() error {
			err := r.runProbe(ctx, probe)
			resMu.Lock()
			results[probe.Name()] = err
			resMu.Unlock()
			// Probe failures are outcomes, not round failures.
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// Start runs probe rounds at the configured interval until ctx is done.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

func (r *Runner) runProbe(ctx context.Context, probe Probe) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	start := r.config.Now()

	done := make(chan error, 1)
	go func() {
		done <- probe.Probe(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ErrProbeTimeout
	}

	r.monitor.RecordOutcome(probe.Name(), err == nil, r.config.Now().Sub(start))
	return err
}
