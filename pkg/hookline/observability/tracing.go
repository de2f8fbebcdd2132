package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the hookline tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("hookline")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartEventSpan starts a span for one dispatched event.
	StartEventSpan(ctx context.Context, eventType string) (context.Context, trace.Span)

	// StartDeliverySpan starts a span for a delivery attempt-sequence.
	// The delivery span should be a child of the event span.
	StartDeliverySpan(ctx context.Context, url string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartEventSpan starts a span for one dispatched event.
func (m *otelSpanManager) StartEventSpan(ctx context.Context, eventType string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "hookline.dispatch",
		trace.WithAttributes(
			attribute.String("event.type", eventType),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartDeliverySpan starts a span for a delivery attempt-sequence.
func (m *otelSpanManager) StartDeliverySpan(ctx context.Context, url string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "hookline.deliver",
		trace.WithAttributes(
			attribute.String("destination.url", url),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
