// Package ratelimit enforces per-destination sliding-window send caps.
//
// Each rate-limited destination owns one Limiter. Payloads admitted
// under capacity deliver inline; excess payloads queue FIFO and drain
// as the trailing window frees up, driven by a single scheduled flush
// timer. Queued payloads keep their original timestamps - queuing
// latency is invisible to payload consumers except via the Queued flag
// on the result.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hookline/hookline/pkg/hookline/delivery"
	"github.com/hookline/hookline/pkg/hookline/event"
	"github.com/hookline/hookline/pkg/hookline/observability"
	"github.com/hookline/hookline/pkg/hookline/schedule"
)

// minFlushDelay is the floor for scheduled flush timers, so a nearly
// expired window never busy-loops the scheduler.
const minFlushDelay = 100 * time.Millisecond

// DeliverFunc carries one payload to its destination. The queued flag
// reports whether the payload waited in the backlog. The limiter calls
// it with no internal locks held; flush-driven calls receive a
// background context because the admitting caller is long gone.
type DeliverFunc func(ctx context.Context, p event.Payload, queued bool) delivery.Result

// Limiter is the rate window and backlog queue for one destination.
// All state is owned by the limiter and mutated only under its mutex.
type Limiter struct {
	url     string
	max     int
	window  time.Duration
	deliver DeliverFunc

	now     func() time.Time
	sched   schedule.Scheduler
	logger  *slog.Logger
	metrics observability.MetricsRecorder

	mu     sync.Mutex
	sent   []time.Time     // send timestamps inside the trailing window, oldest first
	queue  []event.Payload // FIFO backlog
	flush  schedule.Timer  // at most one scheduled flush
	closed bool
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithNow sets the clock. Default: time.Now.
func WithNow(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithScheduler sets the flush timer scheduler. Default: StdScheduler.
func WithScheduler(s schedule.Scheduler) Option {
	return func(l *Limiter) {
		l.sched = s
	}
}

// WithLogger enables queue/flush debug logging.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics recorder. Default: NoopMetrics.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// New creates a Limiter for one destination. The limit allows at most
// rl.MaxRequests deliveries inside any trailing rl.Window interval.
func New(url string, rl delivery.RateLimit, deliver DeliverFunc, opts ...Option) *Limiter {
	l := &Limiter{
		url:     url,
		max:     rl.MaxRequests,
		window:  rl.Window,
		deliver: deliver,
		now:     time.Now,
		sched:   schedule.NewStdScheduler(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit accepts a payload for eventual delivery. Under capacity with an
// empty backlog it delivers inline and returns the real result.
// Otherwise the payload joins the FIFO backlog and a queued placeholder
// result comes back; the actual delivery happens asynchronously when
// the window frees up.
func (l *Limiter) Admit(ctx context.Context, p event.Payload) delivery.Result {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return delivery.Result{URL: l.url, Error: "rate limiter closed"}
	}

	now := l.now()
	l.prune(now)

	if len(l.sent) < l.max && len(l.queue) == 0 {
		l.sent = append(l.sent, now)
		l.mu.Unlock()
		return l.deliver(ctx, p, false)
	}

	// A fresh event never jumps ahead of the backlog.
	l.queue = append(l.queue, p)
	depth := len(l.queue)
	hasCapacity := len(l.sent) < l.max
	if !hasCapacity {
		l.scheduleFlushLocked(now)
	}
	l.mu.Unlock()

	observability.LogEventQueued(l.logger, l.url, depth)
	l.metrics.RecordQueueDepth(context.Background(), l.url, int64(depth))

	if hasCapacity {
		l.flushPass()
	}
	return delivery.QueuedResult(l.url)
}

// Close cancels any scheduled flush and drops the backlog. Remaining
// queued payloads are not delivered; there is no persistence.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	if l.flush != nil {
		l.flush.Stop()
		l.flush = nil
	}
	l.queue = nil
}

// Pending returns the current backlog size.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// InWindow returns the number of sends inside the trailing window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.sent)
}

// prune drops timestamps older than the window. Caller holds the mutex.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.sent) && !l.sent[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.sent = append(l.sent[:0], l.sent[i:]...)
	}
}

// scheduleFlushLocked arms the single flush timer if none is pending.
// Caller holds the mutex.
func (l *Limiter) scheduleFlushLocked(now time.Time) {
	if l.flush != nil {
		return
	}
	delay := minFlushDelay
	if len(l.sent) > 0 {
		if until := l.window - now.Sub(l.sent[0]); until > delay {
			delay = until
		}
	}
	l.flush = l.sched.AfterFunc(delay, l.onFlushTimer)
}

func (l *Limiter) onFlushTimer() {
	l.mu.Lock()
	l.flush = nil
	l.mu.Unlock()
	l.flushPass()
}

// flushPass drains the backlog while capacity exists, re-pruning each
// iteration. If backlog remains once capacity is exhausted, a single
// flush timer is rearmed.
func (l *Limiter) flushPass() {
	delivered := 0
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return
		}

		now := l.now()
		l.prune(now)

		if len(l.queue) == 0 {
			if l.flush != nil {
				l.flush.Stop()
				l.flush = nil
			}
			l.mu.Unlock()
			break
		}

		if len(l.sent) >= l.max {
			l.scheduleFlushLocked(now)
			remaining := len(l.queue)
			l.mu.Unlock()
			observability.LogQueueFlush(l.logger, l.url, delivered, remaining)
			l.metrics.RecordQueueDepth(context.Background(), l.url, int64(remaining))
			return
		}

		p := l.queue[0]
		l.queue = l.queue[1:]
		l.sent = append(l.sent, now)
		l.mu.Unlock()

		l.deliver(context.Background(), p, true)
		delivered++
	}

	if delivered > 0 {
		observability.LogQueueFlush(l.logger, l.url, delivered, 0)
		l.metrics.RecordQueueDepth(context.Background(), l.url, 0)
	}
}
