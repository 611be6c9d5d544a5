package health

import (
	"sort"
	"sync"
	"time"
)

// MonitorConfig configures the health monitor.
type MonitorConfig struct {
	// WindowSize is the number of recent samples kept per dependency key
	// for error-rate and latency-percentile computation.
	// Default: 128
	WindowSize int

	// UnhealthyThreshold is the number of consecutive failures after which
	// a dependency is considered unhealthy.
	// Default: 3
	UnhealthyThreshold int

	// Now is the time source. Default: time.Now
	Now func() time.Time
}

// Stats is a point-in-time snapshot of one dependency's observed health.
type Stats struct {
	// Key identifies the dependency.
	Key string

	// ConsecutiveFailures is the current run of failed outcomes.
	ConsecutiveFailures int

	// ConsecutiveSuccesses is the current run of successful outcomes.
	ConsecutiveSuccesses int

	// TotalCalls is the number of outcomes recorded since creation.
	TotalCalls int64

	// TotalFailures is the number of failed outcomes since creation.
	TotalFailures int64

	// WindowCalls is the number of samples currently in the window.
	WindowCalls int

	// ErrorRate is the fraction of failed outcomes in the window.
	ErrorRate float64

	// P50, P95 and P99 are latency percentiles over the window.
	P50 time.Duration
	P95 time.Duration
	P99 time.Duration

	// LastCheck is when the most recent outcome was recorded.
	LastCheck time.Time
}

type sample struct {
	ok      bool
	latency time.Duration
}

type depStats struct {
	mu sync.Mutex

	window []sample
	pos    int
	filled int

	consecutiveFailures  int
	consecutiveSuccesses int
	totalCalls           int64
	totalFailures        int64
	lastCheck            time.Time
}

// Monitor records dependency call outcomes and serves health snapshots.
// All methods are safe for concurrent use.
type Monitor struct {
	config MonitorConfig

	mu   sync.RWMutex
	deps map[string]*depStats
}

// NewMonitor creates a health monitor.
func NewMonitor(config ...MonitorConfig) *Monitor {
	cfg := MonitorConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 128
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Monitor{
		config: cfg,
		deps:   make(map[string]*depStats),
	}
}

// UnhealthyThreshold returns the configured consecutive-failure threshold.
func (m *Monitor) UnhealthyThreshold() int {
	return m.config.UnhealthyThreshold
}

// RecordOutcome records one call outcome for a dependency key.
func (m *Monitor) RecordOutcome(key string, ok bool, latency time.Duration) {
	d := m.statsFor(key)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.window[d.pos] = sample{ok: ok, latency: latency}
	d.pos = (d.pos + 1) % len(d.window)
	if d.filled < len(d.window) {
		d.filled++
	}

	d.totalCalls++
	if ok {
		d.consecutiveFailures = 0
		d.consecutiveSuccesses++
	} else {
		d.consecutiveSuccesses = 0
		d.consecutiveFailures++
		d.totalFailures++
	}
	d.lastCheck = m.config.Now()
}

// Snapshot returns the current stats for a key. The second return value is
// false when no outcome has ever been recorded for the key.
func (m *Monitor) Snapshot(key string) (Stats, bool) {
	m.mu.RLock()
	d := m.deps[key]
	m.mu.RUnlock()

	if d == nil {
		return Stats{}, false
	}
	return d.snapshot(key), true
}

// Snapshots returns stats for every recorded key, in unspecified order.
func (m *Monitor) Snapshots() []Stats {
	m.mu.RLock()
	keys := make([]string, 0, len(m.deps))
	deps := make([]*depStats, 0, len(m.deps))
	for key, d := range m.deps {
		keys = append(keys, key)
		deps = append(deps, d)
	}
	m.mu.RUnlock()

	all := make([]Stats, 0, len(deps))
	for i, d := range deps {
		all = append(all, d.snapshot(keys[i]))
	}
	return all
}

// Keys returns the recorded dependency keys, sorted.
func (m *Monitor) Keys() []string {
	m.mu.RLock()
	keys := make([]string, 0, len(m.deps))
	for key := range m.deps {
		keys = append(keys, key)
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

func (m *Monitor) statsFor(key string) *depStats {
	m.mu.RLock()
	d := m.deps[key]
	m.mu.RUnlock()
	if d != nil {
		return d
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if d = m.deps[key]; d != nil {
		return d
	}
	d = &depStats{window: make([]sample, m.config.WindowSize)}
	m.deps[key] = d
	return d
}

func (d *depStats) snapshot(key string) Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := Stats{
		Key:                  key,
		ConsecutiveFailures:  d.consecutiveFailures,
		ConsecutiveSuccesses: d.consecutiveSuccesses,
		TotalCalls:           d.totalCalls,
		TotalFailures:        d.totalFailures,
		WindowCalls:          d.filled,
		LastCheck:            d.lastCheck,
	}

	if d.filled == 0 {
		return stats
	}

	latencies := make([]time.Duration, 0, d.filled)
	failures := 0
	for i := 0; i < d.filled; i++ {
		s := d.window[i]
		latencies = append(latencies, s.latency)
		if !s.ok {
			failures++
		}
	}

	stats.ErrorRate = float64(failures) / float64(d.filled)

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	stats.P50 = percentile(latencies, 0.50)
	stats.P95 = percentile(latencies, 0.95)
	stats.P99 = percentile(latencies, 0.99)

	return stats
}

// percentile returns the nearest-rank percentile of sorted latencies.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted))*p+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
