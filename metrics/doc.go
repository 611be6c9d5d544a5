// Package metrics records dependency call outcomes.
//
// The Recorder does two things with every recorded call: it emits
// OpenTelemetry instruments (counters for totals, errors, fallbacks and
// shed calls, plus a duration histogram) for export, and it maintains
// in-process per-key/per-operation summaries that can be queried directly
// without an exporter round trip.
//
//	recorder, err := metrics.NewRecorder(observer.Meter())
//	if err != nil { ... }
//
//	recorder.RecordCall(ctx, metrics.Call{
//		Dependency: "market_data",
//		Key:        "quotes-primary",
//		Operation:  "get_quote",
//		Duration:   latency,
//		Err:        err,
//		Attempts:   2,
//	})
//
//	summary, ok := recorder.Snapshot("quotes-primary", "get_quote")
//
// NewNoop returns a recorder that keeps the queryable summaries but emits
// nothing, for tests and metric-free deployments.
package metrics
