// Package telemetry wires OpenTelemetry tracing and metrics together with
// structured logging for dependency call instrumentation.
//
// The Observer owns the provider lifecycle: it builds a tracer, a meter and
// a logger from a single Config and shuts them down together. The Tracer
// wraps each protected dependency call in a span carrying call metadata;
// the Logger emits JSON lines with sensitive fields redacted.
package telemetry
