package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	hlerrors "github.com/hookline/hookline/pkg/hookline/errors"
	"github.com/hookline/hookline/pkg/hookline/observability"
)

// maxErrorBodyBytes limits how much of an error response body is kept
// for the result's error message.
const maxErrorBodyBytes = 512

// Doer performs one HTTP request. *http.Client satisfies it; tests
// substitute fakes.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client delivers webhook payloads with per-destination retry.
type Client struct {
	doer    Doer
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDoer sets the HTTP transport. Default: http.DefaultClient.
// Per-attempt timeouts are enforced through the request context, so
// the Doer needs no timeout of its own.
func WithDoer(d Doer) ClientOption {
	return func(c *Client) {
		c.doer = d
	}
}

// WithLogger enables attempt-by-attempt debug logging.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics recorder. Default: NoopMetrics.
func WithMetrics(m observability.MetricsRecorder) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithSpans sets the span manager. Default: NoopSpanManager.
func WithSpans(s observability.SpanManager) ClientOption {
	return func(c *Client) {
		c.spans = s
	}
}

// NewClient creates a delivery client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		doer:    http.DefaultClient,
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Deliver sends body to the destination, retrying failed attempts with
// linear backoff (BaseDelay * attemptNumber) up to MaxAttempts. A 2xx
// response ends the loop immediately. Failures are never returned as
// errors; they surface in the Result.
func (c *Client) Deliver(ctx context.Context, dest *Destination, body any) Result {
	start := time.Now()

	ctx, span := c.spans.StartDeliverySpan(ctx, dest.URL)

	data, err := json.Marshal(body)
	if err != nil {
		c.spans.EndSpanWithError(span, err)
		return Result{
			URL:   dest.URL,
			Error: fmt.Sprintf("marshal payload: %v", err),
		}
	}

	maxAttempts := dest.maxAttempts()
	var lastErr error
	var lastStatus int

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, err := c.attempt(ctx, dest, data)
		if err == nil {
			c.spans.EndSpanWithError(span, nil)
			c.metrics.RecordDelivery(ctx, dest.URL, time.Since(start), attempt, nil)
			observability.LogDeliverySuccess(c.logger, dest.URL, status, attempt,
				float64(time.Since(start).Milliseconds()))
			return Result{
				Success:    true,
				URL:        dest.URL,
				StatusCode: status,
				Attempts:   attempt,
			}
		}

		lastErr = err
		lastStatus = status

		if dest.ClassifyRetries && !hlerrors.IsRetryable(err) {
			c.spans.EndSpanWithError(span, err)
			c.metrics.RecordDelivery(ctx, dest.URL, time.Since(start), attempt, err)
			observability.LogDeliveryFailure(c.logger, dest.URL, attempt, err)
			return Result{
				URL:        dest.URL,
				StatusCode: status,
				Error:      err.Error(),
				Attempts:   attempt,
			}
		}

		if attempt < maxAttempts {
			backoff := dest.baseDelay() * time.Duration(attempt)
			observability.LogDeliveryAttempt(c.logger, dest.URL, attempt, backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				lastErr = ctx.Err()
				c.spans.EndSpanWithError(span, lastErr)
				c.metrics.RecordDelivery(ctx, dest.URL, time.Since(start), attempt, lastErr)
				observability.LogDeliveryFailure(c.logger, dest.URL, attempt, lastErr)
				return Result{
					URL:        dest.URL,
					StatusCode: status,
					Error:      lastErr.Error(),
					Attempts:   attempt,
				}
			}
		}
	}

	c.spans.EndSpanWithError(span, lastErr)
	c.metrics.RecordDelivery(ctx, dest.URL, time.Since(start), maxAttempts, lastErr)
	observability.LogDeliveryFailure(c.logger, dest.URL, maxAttempts, lastErr)
	return Result{
		URL:        dest.URL,
		StatusCode: lastStatus,
		Error:      lastErr.Error(),
		Attempts:   maxAttempts,
	}
}

// attempt performs a single HTTP call. Returns the status code and a
// nil error only for 2xx responses.
func (c *Client) attempt(ctx context.Context, dest *Destination, data []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, dest.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, dest.method(), dest.URL, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range dest.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, &hlerrors.TimeoutError{URL: dest.URL, Timeout: dest.timeout().String()}
		}
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	msg := string(bytes.TrimSpace(snippet))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return resp.StatusCode, &hlerrors.HTTPError{
		StatusCode: resp.StatusCode,
		URL:        dest.URL,
		Message:    msg,
	}
}
