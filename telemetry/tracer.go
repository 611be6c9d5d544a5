package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// CallMeta contains metadata about a protected dependency call.
type CallMeta struct {
	Dependency string // Dependency type, e.g. "database" or "ai_service"
	Key        string // Dependency instance key
	Operation  string // Operation name, e.g. "get_quote"
}

// SpanName returns the deterministic span name for this call.
// Format: dep.call.<key>.<operation>
func (m CallMeta) SpanName() string {
	if m.Operation != "" {
		return "dep.call." + m.Key + "." + m.Operation
	}
	return "dep.call." + m.Key
}

// Tracer wraps OpenTelemetry tracing with call-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndCall must be best-effort and must not panic.
type Tracer interface {
	// StartCall starts a new span for a dependency call.
	StartCall(ctx context.Context, meta CallMeta) (context.Context, trace.Span)

	// EndCall ends the span, recording any error.
	EndCall(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartCall starts a new span with call metadata as attributes.
func (t *tracerImpl) StartCall(ctx context.Context, meta CallMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("dep.type", meta.Dependency),
		attribute.String("dep.key", meta.Key),
		attribute.Bool("dep.error", false), // Updated in EndCall on error
	}
	if meta.Operation != "" {
		attrs = append(attrs, attribute.String("dep.operation", meta.Operation))
	}

	ctx, span := t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)

	return ctx, span
}

// EndCall ends the span and records the error status if present.
func (t *tracerImpl) EndCall(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("dep.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

// NewNopTracer creates a no-op tracer.
func NewNopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartCall(ctx context.Context, meta CallMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndCall(span trace.Span, err error) {
	span.End()
}
