package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records hookline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordDelivery records one delivery attempt-sequence with its
	// duration, attempt count, and error status.
	RecordDelivery(ctx context.Context, url string, duration time.Duration, attempts int, err error)

	// RecordEvent records an event entering the dispatcher and the
	// number of destinations it fanned out to.
	RecordEvent(ctx context.Context, eventType string, destinations int)

	// RecordQueueDepth records the backlog size of a rate-limited
	// destination after an admit or flush.
	RecordQueueDepth(ctx context.Context, url string, depth int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	deliveries      metric.Int64Counter
	deliveryErrors  metric.Int64Counter
	deliveryLatency metric.Float64Histogram
	deliveryRetries metric.Int64Histogram
	events          metric.Int64Counter
	queueDepth      metric.Int64Gauge
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("hookline")

	deliveries, err := meter.Int64Counter("hookline.deliveries",
		metric.WithDescription("Number of webhook delivery attempt-sequences"),
	)
	if err != nil {
		return nil, err
	}

	deliveryErrors, err := meter.Int64Counter("hookline.delivery.errors",
		metric.WithDescription("Number of deliveries that exhausted their attempts"),
	)
	if err != nil {
		return nil, err
	}

	deliveryLatency, err := meter.Float64Histogram("hookline.delivery.latency_ms",
		metric.WithDescription("Delivery latency in milliseconds, retries included"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	deliveryRetries, err := meter.Int64Histogram("hookline.delivery.attempts",
		metric.WithDescription("Attempts used per delivery"),
	)
	if err != nil {
		return nil, err
	}

	events, err := meter.Int64Counter("hookline.events",
		metric.WithDescription("Number of events handled by the dispatcher"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64Gauge("hookline.queue.depth",
		metric.WithDescription("Pending events in a destination's rate-limit queue"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		deliveries:      deliveries,
		deliveryErrors:  deliveryErrors,
		deliveryLatency: deliveryLatency,
		deliveryRetries: deliveryRetries,
		events:          events,
		queueDepth:      queueDepth,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordDelivery records a delivery attempt-sequence.
func (m *otelMetrics) RecordDelivery(ctx context.Context, url string, duration time.Duration, attempts int, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("destination", url),
	}

	m.deliveries.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.deliveryLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.deliveryRetries.Record(ctx, int64(attempts), metric.WithAttributes(attrs...))

	if err != nil {
		m.deliveryErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordEvent records an event entering the dispatcher.
func (m *otelMetrics) RecordEvent(ctx context.Context, eventType string, destinations int) {
	m.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.Int("destinations", destinations),
	))
}

// RecordQueueDepth records a destination's current backlog.
func (m *otelMetrics) RecordQueueDepth(ctx context.Context, url string, depth int64) {
	m.queueDepth.Record(ctx, depth, metric.WithAttributes(
		attribute.String("destination", url),
	))
}
