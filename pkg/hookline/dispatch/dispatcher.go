// Package dispatch routes typed events to their subscribed webhook
// destinations.
//
// The dispatcher owns the event-type index and the per-destination
// rate limiters explicitly - no process-wide registries. For each
// event it fans out to every subscribed destination concurrently,
// applies the destination's filter and transform, and hands the wire
// body to the delivery client directly or through the destination's
// rate limiter. One destination's failure (including a panicking
// user-supplied filter or transform) never affects its siblings:
// HandleEvent always returns one structured result per destination
// and never an error.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hookline/hookline/pkg/hookline/deadletter"
	"github.com/hookline/hookline/pkg/hookline/delivery"
	"github.com/hookline/hookline/pkg/hookline/event"
	"github.com/hookline/hookline/pkg/hookline/history"
	"github.com/hookline/hookline/pkg/hookline/observability"
	"github.com/hookline/hookline/pkg/hookline/ratelimit"
	"github.com/hookline/hookline/pkg/hookline/schedule"
)

// Config configures a Dispatcher.
type Config struct {
	// Destinations to index by their subscribed event types.
	Destinations []*delivery.Destination

	// Client performs deliveries. Default: delivery.NewClient().
	Client *delivery.Client

	// MaxConcurrent caps simultaneous destination deliveries across
	// all events. Default: 0 (unlimited).
	MaxConcurrent int64

	// Logger enables structured debug/info logging.
	Logger *slog.Logger

	// Metrics records dispatch and queue metrics. Default: NoopMetrics.
	Metrics observability.MetricsRecorder

	// Spans traces dispatched events. Default: NoopSpanManager.
	Spans observability.SpanManager

	// Now overrides the clock (for tests).
	Now func() time.Time

	// Scheduler drives rate-limit flush timers. Default: StdScheduler.
	Scheduler schedule.Scheduler

	// History, when set, logs every completed delivery result.
	History history.Store

	// DeadLetter, when set, collects deliveries that exhausted their
	// attempts.
	DeadLetter *deadletter.Queue
}

// Dispatcher routes events to destinations. Construct once at startup
// and pass the instance to whatever produces events.
type Dispatcher struct {
	byType   map[string][]*delivery.Destination
	limiters map[*delivery.Destination]*ratelimit.Limiter

	client     *delivery.Client
	sem        *semaphore.Weighted
	logger     *slog.Logger
	metrics    observability.MetricsRecorder
	spans      observability.SpanManager
	now        func() time.Time
	hist       history.Store
	deadletter *deadletter.Queue

	closed atomic.Bool
}

// New creates a Dispatcher from the configuration.
func New(cfg Config) *Dispatcher {
	if cfg.Client == nil {
		cfg.Client = delivery.NewClient()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	if cfg.Spans == nil {
		cfg.Spans = observability.NoopSpanManager{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = schedule.NewStdScheduler()
	}

	d := &Dispatcher{
		byType:     make(map[string][]*delivery.Destination),
		limiters:   make(map[*delivery.Destination]*ratelimit.Limiter),
		client:     cfg.Client,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		spans:      cfg.Spans,
		now:        cfg.Now,
		hist:       cfg.History,
		deadletter: cfg.DeadLetter,
	}
	if cfg.MaxConcurrent > 0 {
		d.sem = semaphore.NewWeighted(cfg.MaxConcurrent)
	}

	for _, dest := range cfg.Destinations {
		for _, t := range dest.EventTypes {
			d.byType[t] = append(d.byType[t], dest)
		}
		if dest.RateLimit != nil {
			dest := dest
			d.limiters[dest] = ratelimit.New(dest.URL, *dest.RateLimit,
				func(ctx context.Context, p event.Payload, queued bool) delivery.Result {
					return d.send(ctx, dest, p, queued)
				},
				ratelimit.WithNow(cfg.Now),
				ratelimit.WithScheduler(cfg.Scheduler),
				ratelimit.WithLogger(cfg.Logger),
				ratelimit.WithMetrics(cfg.Metrics),
			)
		}
	}

	return d
}

// HandleEvent routes one event to every destination subscribed to
// eventType. The payload is stamped with the current time and the
// event type; caller fields may include "sessionId", "userId", and
// arbitrary extra keys. Returns one result per subscribed destination
// in registration order; an empty result set means no subscribers.
func (d *Dispatcher) HandleEvent(ctx context.Context, eventType string, fields map[string]any) []delivery.Result {
	dests := d.byType[eventType]
	d.metrics.RecordEvent(ctx, eventType, len(dests))
	observability.LogEventDispatched(d.logger, eventType, len(dests))
	if len(dests) == 0 {
		return nil
	}

	p := event.New(eventType, fields, event.WithTimestamp(d.now()))

	ctx, span := d.spans.StartEventSpan(ctx, eventType)
	defer d.spans.EndSpanWithError(span, nil)

	results := make([]delivery.Result, len(dests))
	var wg sync.WaitGroup
	for i, dest := range dests {
		wg.Add(1)
		go func(i int, dest *delivery.Destination) {
			defer wg.Done()
			if d.sem != nil {
				if err := d.sem.Acquire(ctx, 1); err != nil {
					results[i] = delivery.Result{URL: dest.URL, Error: err.Error()}
					return
				}
				defer d.sem.Release(1)
			}
			results[i] = d.dispatchOne(ctx, dest, p)
		}(i, dest)
	}
	wg.Wait()

	return results
}

// Subscribed reports whether any destination subscribes to eventType.
func (d *Dispatcher) Subscribed(eventType string) bool {
	return len(d.byType[eventType]) > 0
}

// Close tears down all per-destination rate limiters, cancelling their
// scheduled flushes. Queued payloads are dropped.
func (d *Dispatcher) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	for _, lim := range d.limiters {
		lim.Close()
	}
}

// dispatchOne handles a single destination: filter, then direct
// delivery or rate-limited admission.
func (d *Dispatcher) dispatchOne(ctx context.Context, dest *delivery.Destination, p event.Payload) delivery.Result {
	send, err := d.runFilter(dest, p)
	if err != nil {
		res := delivery.Result{URL: dest.URL, Error: err.Error()}
		d.record(dest, p, res)
		return res
	}
	if !send {
		return delivery.Filtered(dest.URL)
	}

	if lim := d.limiters[dest]; lim != nil {
		return lim.Admit(ctx, p)
	}
	return d.send(ctx, dest, p, false)
}

// runFilter evaluates the destination filter with panic isolation.
func (d *Dispatcher) runFilter(dest *delivery.Destination, p event.Payload) (send bool, err error) {
	if dest.Filter == nil {
		return true, nil
	}
	defer func() {
		if r := recover(); r != nil {
			send = false
			err = fmt.Errorf("filter panic: %v", r)
		}
	}()
	return dest.Filter(p), nil
}

// send applies the transform exactly once and delivers, converting a
// panicking transform into a failed result. Both the direct path and
// the rate limiter's flush land here.
func (d *Dispatcher) send(ctx context.Context, dest *delivery.Destination, p event.Payload, queued bool) (res delivery.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = delivery.Result{URL: dest.URL, Error: fmt.Sprintf("transform panic: %v", r)}
			res.Queued = queued
			d.record(dest, p, res)
		}
	}()

	res = d.client.Deliver(ctx, dest, dest.Body(p))
	res.Queued = queued
	d.record(dest, p, res)
	return res
}

// record feeds the optional history store and dead letter queue.
func (d *Dispatcher) record(dest *delivery.Destination, p event.Payload, res delivery.Result) {
	if d.hist != nil {
		rec := history.FromResult(uuid.New().String(), p.Type, res)
		rec.Timestamp = d.now().UTC()
		if err := d.hist.Append(rec); err != nil && d.logger != nil {
			d.logger.Warn("history append failed",
				slog.String("destination", dest.URL),
				slog.String("error", err.Error()))
		}
	}
	if d.deadletter != nil && !res.Success && res.Attempts > 0 {
		d.deadletter.Enqueue(deadletter.NewEntry(p, dest.URL, res.Error, res.StatusCode, res.Attempts))
	}
}
