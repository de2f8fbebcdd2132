// Package delivery performs outbound webhook deliveries with bounded
// retry. The Client never returns an error: every attempt-sequence is
// reported as a structured Result so one destination's failure can
// never take down the caller.
package delivery

import (
	"net/http"
	"time"

	"github.com/hookline/hookline/pkg/hookline/event"
)

// Defaults applied when a Destination leaves a field zero.
const (
	DefaultMethod      = http.MethodPost
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	DefaultTimeout     = 10 * time.Second
)

// Transform shapes a payload into the wire body for one destination.
// A nil Transform means identity (the payload itself is the body).
type Transform func(event.Payload) any

// Filter decides whether a payload should be sent to a destination.
// A nil Filter means send everything.
type Filter func(event.Payload) bool

// RetryPolicy bounds the delivery retry loop.
// Backoff is linear: BaseDelay * attemptNumber between attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// RateLimit caps a destination's sends inside a trailing window.
type RateLimit struct {
	MaxRequests int
	Window      time.Duration
}

// Destination describes one webhook target. Immutable after
// construction; one instance may be subscribed under several event
// types and is shared by reference, never copied.
type Destination struct {
	URL        string
	EventTypes []string
	Method     string
	Headers    map[string]string
	Transform  Transform
	Filter     Filter
	Retry      RetryPolicy
	Timeout    time.Duration
	RateLimit  *RateLimit

	// ClassifyRetries stops retrying once a failure is classified as
	// permanent (4xx auth/validation responses). Off by default: the
	// default behavior retries all failures uniformly.
	ClassifyRetries bool
}

func (d *Destination) method() string {
	if d.Method != "" {
		return d.Method
	}
	return DefaultMethod
}

func (d *Destination) maxAttempts() int {
	if d.Retry.MaxAttempts > 0 {
		return d.Retry.MaxAttempts
	}
	return DefaultMaxAttempts
}

func (d *Destination) baseDelay() time.Duration {
	if d.Retry.BaseDelay > 0 {
		return d.Retry.BaseDelay
	}
	return DefaultBaseDelay
}

func (d *Destination) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

// Body applies the destination's transform to a payload, defaulting to
// identity. Each payload must pass through exactly one Body call on its
// way to the client: the dispatcher's direct path or the rate limiter's
// flush, whichever carries it.
func (d *Destination) Body(p event.Payload) any {
	if d.Transform == nil {
		return p
	}
	return d.Transform(p)
}
