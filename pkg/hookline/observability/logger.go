// Package observability provides production-grade observability features
// for hookline: structured logging, metrics, and distributed tracing.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds delivery context to a logger.
// Returns a new logger with destination, event_type, and attempt fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "https://example.com/hook", "task.done", 1)
//	enriched.Debug("sending") // includes destination, event_type, attempt
func EnrichLogger(logger *slog.Logger, url, eventType string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("destination", url),
		slog.String("event_type", eventType),
		slog.Int("attempt", attempt),
	)
}

// LogEventDispatched logs an event entering the dispatcher.
func LogEventDispatched(logger *slog.Logger, eventType string, destinations int) {
	if logger == nil {
		return
	}
	logger.Debug("event dispatched",
		slog.String("event_type", eventType),
		slog.Int("destinations", destinations),
	)
}

// LogDeliverySuccess logs a completed delivery.
func LogDeliverySuccess(logger *slog.Logger, url string, statusCode, attempts int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("delivery succeeded",
		slog.String("destination", url),
		slog.Int("status_code", statusCode),
		slog.Int("attempts", attempts),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDeliveryFailure logs a delivery that exhausted its attempts.
func LogDeliveryFailure(logger *slog.Logger, url string, attempts int, err error) {
	if logger == nil {
		return
	}
	logger.Error("delivery failed",
		slog.String("destination", url),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// LogDeliveryAttempt logs a single failed attempt before retry.
func LogDeliveryAttempt(logger *slog.Logger, url string, attempt int, backoff time.Duration, err error) {
	if logger == nil {
		return
	}
	logger.Debug("delivery attempt failed, retrying",
		slog.String("destination", url),
		slog.Int("attempt", attempt),
		slog.Duration("backoff", backoff),
		slog.String("error", err.Error()),
	)
}

// LogEventQueued logs an event held back by a destination's rate window.
func LogEventQueued(logger *slog.Logger, url string, depth int) {
	if logger == nil {
		return
	}
	logger.Debug("event queued by rate limit",
		slog.String("destination", url),
		slog.Int("queue_depth", depth),
	)
}

// LogQueueFlush logs a rate-limit flush pass.
func LogQueueFlush(logger *slog.Logger, url string, delivered, remaining int) {
	if logger == nil {
		return
	}
	logger.Debug("rate limit queue flushed",
		slog.String("destination", url),
		slog.Int("delivered", delivered),
		slog.Int("remaining", remaining),
	)
}

// LogCompletionEmitted logs a synthetic completion event leaving the aggregator.
func LogCompletionEmitted(logger *slog.Logger, sessionID string, parts int) {
	if logger == nil {
		return
	}
	logger.Info("session completion emitted",
		slog.String("session_id", sessionID),
		slog.Int("parts", parts),
	)
}
