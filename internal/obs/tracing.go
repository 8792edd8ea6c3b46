package obs

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// NewTracerProvider returns an in-process tracer provider: spans are
// created and their attributes (including correlation id) are available
// to anything reading the current span, but nothing is exported to a
// collector. Wiring an OTLP exporter would need a collector endpoint this
// module has no business assuming; see DESIGN.md for the full rationale.
func NewTracerProvider() *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider()
}

// Tracer is the name-scoped tracer every component pulls spans from.
func Tracer(tp *sdktrace.TracerProvider, name string) trace.Tracer {
	return tp.Tracer(name)
}

// StartSpan starts a span and, if a correlation id is present on ctx,
// attaches it as a span attribute so traces and logs share one key.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	if id := CorrelationID(ctx); id != "" {
		span.SetAttributes(correlationAttr(id))
	}
	return ctx, span
}
