package metrics

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Call describes one completed dependency call.
type Call struct {
	// Dependency is the dependency type, e.g. "database".
	Dependency string

	// Key identifies the dependency instance.
	Key string

	// Operation is the logical operation name.
	Operation string

	// Duration is the total call duration including retries and fallbacks.
	Duration time.Duration

	// Err is the terminal error, nil on success.
	Err error

	// UsedFallback names the fallback that produced the result, if any.
	UsedFallback string

	// Attempts is the number of primary attempts made.
	Attempts int

	// Shed reports whether degraded mode shed the primary call.
	Shed bool
}

// Summary is the aggregated view of calls for one key and operation.
type Summary struct {
	Key       string
	Operation string

	TotalCalls    int64
	Failures      int64
	FallbackCalls int64
	ShedCalls     int64
	TotalAttempts int64

	ErrorRate  float64
	AvgLatency time.Duration
	MinLatency time.Duration
	MaxLatency time.Duration
	LatencyP95 time.Duration
	LatencyP99 time.Duration
}

// latencyWindowSize bounds the per-pair sample window used for percentile
// estimates.
const latencyWindowSize = 128

type summaryKey struct {
	key       string
	operation string
}

type aggregate struct {
	totalCalls    int64
	failures      int64
	fallbackCalls int64
	shedCalls     int64
	totalAttempts int64
	totalLatency  time.Duration
	minLatency    time.Duration
	maxLatency    time.Duration

	window [latencyWindowSize]time.Duration
	pos    int
	filled bool
}

// Recorder records dependency call metrics. It is safe for concurrent use.
type Recorder struct {
	totalCount    metric.Int64Counter
	errorCount    metric.Int64Counter
	fallbackCount metric.Int64Counter
	shedCount     metric.Int64Counter
	retryCount    metric.Int64Counter
	durationHist  metric.Float64Histogram

	mu         sync.RWMutex
	aggregates map[summaryKey]*aggregate
}

// NewRecorder creates a recorder emitting through the given meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	totalCount, err := meter.Int64Counter(
		"dep.call.total",
		metric.WithDescription("Total number of dependency calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"dep.call.errors",
		metric.WithDescription("Total number of failed dependency calls"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	fallbackCount, err := meter.Int64Counter(
		"dep.call.fallbacks",
		metric.WithDescription("Total number of calls served by a fallback"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	shedCount, err := meter.Int64Counter(
		"dep.call.shed",
		metric.WithDescription("Total number of primary calls shed by degraded mode"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	retryCount, err := meter.Int64Counter(
		"dep.call.retries",
		metric.WithDescription("Total number of retry attempts beyond the first"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"dep.call.duration_ms",
		metric.WithDescription("Dependency call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Recorder{
		totalCount:    totalCount,
		errorCount:    errorCount,
		fallbackCount: fallbackCount,
		shedCount:     shedCount,
		retryCount:    retryCount,
		durationHist:  durationHist,
		aggregates:    make(map[summaryKey]*aggregate),
	}, nil
}

// NewNoop returns a recorder that keeps queryable summaries but emits no
// telemetry.
func NewNoop() *Recorder {
	r, _ := NewRecorder(noop.NewMeterProvider().Meter("noop"))
	return r
}

// RecordCall records one completed call.
func (r *Recorder) RecordCall(ctx context.Context, call Call) {
	attrs := []attribute.KeyValue{
		attribute.String("dep.type", call.Dependency),
		attribute.String("dep.key", call.Key),
	}
	if call.Operation != "" {
		attrs = append(attrs, attribute.String("dep.operation", call.Operation))
	}

	opt := metric.WithAttributes(attrs...)

	r.totalCount.Add(ctx, 1, opt)
	if call.Err != nil {
		r.errorCount.Add(ctx, 1, opt)
	}
	if call.UsedFallback != "" {
		r.fallbackCount.Add(ctx, 1,
			metric.WithAttributes(append(attrs, attribute.String("dep.fallback", call.UsedFallback))...))
	}
	if call.Shed {
		r.shedCount.Add(ctx, 1, opt)
	}
	if call.Attempts > 1 {
		r.retryCount.Add(ctx, int64(call.Attempts-1), opt)
	}
	r.durationHist.Record(ctx, float64(call.Duration.Milliseconds()), opt)

	r.record(call)
}

func (r *Recorder) record(call Call) {
	sk := summaryKey{key: call.Key, operation: call.Operation}

	r.mu.Lock()
	defer r.mu.Unlock()

	agg := r.aggregates[sk]
	if agg == nil {
		agg = &aggregate{minLatency: call.Duration, maxLatency: call.Duration}
		r.aggregates[sk] = agg
	}

	agg.totalCalls++
	if call.Err != nil {
		agg.failures++
	}
	if call.UsedFallback != "" {
		agg.fallbackCalls++
	}
	if call.Shed {
		agg.shedCalls++
	}
	agg.totalAttempts += int64(call.Attempts)
	agg.totalLatency += call.Duration
	if call.Duration < agg.minLatency {
		agg.minLatency = call.Duration
	}
	if call.Duration > agg.maxLatency {
		agg.maxLatency = call.Duration
	}
	agg.window[agg.pos] = call.Duration
	agg.pos++
	if agg.pos == latencyWindowSize {
		agg.pos = 0
		agg.filled = true
	}
}

// percentile computes a nearest-rank percentile over the sample set. The
// slice is sorted in place.
func percentile(samples []time.Duration, pct float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	rank := int(math.Ceil(pct / 100 * float64(len(samples))))
	if rank < 1 {
		rank = 1
	}
	return samples[rank-1]
}

func (a *aggregate) samples() []time.Duration {
	n := a.pos
	if a.filled {
		n = latencyWindowSize
	}
	out := make([]time.Duration, n)
	copy(out, a.window[:n])
	return out
}

// Snapshot returns the summary for a key and operation. The second return
// value is false when no call has been recorded for the pair.
func (r *Recorder) Snapshot(key, operation string) (Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agg := r.aggregates[summaryKey{key: key, operation: operation}]
	if agg == nil {
		return Summary{}, false
	}

	s := Summary{
		Key:           key,
		Operation:     operation,
		TotalCalls:    agg.totalCalls,
		Failures:      agg.failures,
		FallbackCalls: agg.fallbackCalls,
		ShedCalls:     agg.shedCalls,
		TotalAttempts: agg.totalAttempts,
		MinLatency:    agg.minLatency,
		MaxLatency:    agg.maxLatency,
	}
	if agg.totalCalls > 0 {
		s.ErrorRate = float64(agg.failures) / float64(agg.totalCalls)
		s.AvgLatency = agg.totalLatency / time.Duration(agg.totalCalls)
	}
	if win := agg.samples(); len(win) > 0 {
		s.LatencyP95 = percentile(win, 95)
		s.LatencyP99 = percentile(win, 99)
	}
	return s, true
}

// Snapshots returns all recorded summaries, in unspecified order.
func (r *Recorder) Snapshots() []Summary {
	r.mu.RLock()
	keys := make([]summaryKey, 0, len(r.aggregates))
	for sk := range r.aggregates {
		keys = append(keys, sk)
	}
	r.mu.RUnlock()

	all := make([]Summary, 0, len(keys))
	for _, sk := range keys {
		if s, ok := r.Snapshot(sk.key, sk.operation); ok {
			all = append(all, s)
		}
	}
	return all
}
