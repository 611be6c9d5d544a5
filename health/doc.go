// Package health tracks the observed health of external dependencies.
//
// The package has two halves. The Monitor is passive: callers record the
// outcome and latency of every real dependency call, and the monitor keeps
// per-key consecutive failure/success counters plus a sliding window of
// recent samples from which it derives error rates and latency percentiles
// (p50, p95, p99). Snapshots are lock-cheap reads of that state.
//
// The Runner is active: it periodically executes registered Probes
// (lightweight reachability checks) and records their outcomes into the
// same monitor, so a dependency that receives no organic traffic still has
// fresh health data.
//
// Basic usage:
//
//	monitor := health.NewMonitor(health.MonitorConfig{})
//
//	// Record call outcomes as they happen.
//	monitor.RecordOutcome("quotes-primary", true, 45*time.Millisecond)
//
//	// Inspect.
//	stats, ok := monitor.Snapshot("quotes-primary")
//	if ok && stats.ConsecutiveFailures >= monitor.UnhealthyThreshold() {
//		// reroute traffic
//	}
//
// Active probing:
//
//	runner := health.NewRunner(monitor)
//	runner.Register(health.NewProbeFunc("quotes-primary", func(ctx context.Context) error {
//		return client.Ping(ctx)
//	}))
//	go runner.Start(ctx)
//
// HTTP handlers for liveness and readiness endpoints are provided via
// RegisterHandlers.
package health
