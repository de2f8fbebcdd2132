// Package hookline wires the full notification pipeline: a session
// accumulator feeding a webhook dispatcher.
//
// The host pushes its raw event stream into a Notifier. Message
// lifecycle events feed the accumulator; when a session goes idle the
// accumulator emits a synthetic agent-completed event, which is routed
// to destinations like any other event. All events are also offered to
// the dispatcher directly, so destinations may subscribe to the raw
// stream.
//
//	n := hookline.New(hookline.Config{
//	    Destinations: []*delivery.Destination{{
//	        URL:        "https://hooks.example.com/notify",
//	        EventTypes: []string{event.TypeAgentCompleted},
//	    }},
//	    IdleDelay: 5 * time.Second,
//	})
//	defer n.Close()
//
//	n.HandleEvent(ctx, eventType, fields)
package hookline

import (
	"context"
	"log/slog"
	"time"

	"github.com/hookline/hookline/pkg/hookline/aggregate"
	"github.com/hookline/hookline/pkg/hookline/deadletter"
	"github.com/hookline/hookline/pkg/hookline/delivery"
	"github.com/hookline/hookline/pkg/hookline/dispatch"
	"github.com/hookline/hookline/pkg/hookline/event"
	"github.com/hookline/hookline/pkg/hookline/history"
	"github.com/hookline/hookline/pkg/hookline/observability"
	"github.com/hookline/hookline/pkg/hookline/schedule"
)

// Config configures a Notifier.
type Config struct {
	// Destinations to route events to.
	Destinations []*delivery.Destination

	// IdleDelay debounces completion emission after session idle.
	// Zero emits on the idle event itself.
	IdleDelay time.Duration

	// TitleLookup resolves session titles for completion payloads.
	TitleLookup aggregate.TitleLookup

	// OnCompletion, when set, observes each emitted completion in
	// addition to the dispatch to subscribed destinations.
	OnCompletion aggregate.CompletionFunc

	// Client performs HTTP deliveries. Default: delivery.NewClient().
	Client *delivery.Client

	// MaxConcurrent caps simultaneous deliveries. Zero means unlimited.
	MaxConcurrent int64

	// Logger enables structured logging across the pipeline.
	Logger *slog.Logger

	// Metrics records pipeline metrics. Default: NoopMetrics.
	Metrics observability.MetricsRecorder

	// Spans traces dispatched events. Default: NoopSpanManager.
	Spans observability.SpanManager

	// History, when set, records every completed delivery.
	History history.Store

	// DeadLetter, when set, collects exhausted deliveries.
	DeadLetter *deadletter.Queue

	// Now overrides the clock (for tests).
	Now func() time.Time

	// Scheduler drives debounce and rate-limit timers (for tests).
	Scheduler schedule.Scheduler
}

// Notifier is the assembled pipeline. Construct once, push events in,
// Close on shutdown.
type Notifier struct {
	dispatcher *dispatch.Dispatcher
	aggregator *aggregate.Aggregator
}

// New assembles a Notifier from the configuration.
func New(cfg Config) *Notifier {
	n := &Notifier{}

	n.dispatcher = dispatch.New(dispatch.Config{
		Destinations:  cfg.Destinations,
		Client:        cfg.Client,
		MaxConcurrent: cfg.MaxConcurrent,
		Logger:        cfg.Logger,
		Metrics:       cfg.Metrics,
		Spans:         cfg.Spans,
		Now:           cfg.Now,
		Scheduler:     cfg.Scheduler,
		History:       cfg.History,
		DeadLetter:    cfg.DeadLetter,
	})

	onCompletion := cfg.OnCompletion
	n.aggregator = aggregate.New(aggregate.Config{
		IdleDelay: cfg.IdleDelay,
		Lookup:    cfg.TitleLookup,
		Logger:    cfg.Logger,
		Now:       cfg.Now,
		Scheduler: cfg.Scheduler,
		OnCompletion: func(c event.Completion) {
			if onCompletion != nil {
				onCompletion(c)
			}
			// Completion may fire from a debounce timer long after the
			// triggering call returned.
			n.dispatcher.HandleEvent(context.Background(), event.TypeAgentCompleted, c.DispatchFields())
		},
	})

	return n
}

// HandleEvent feeds one host event through the pipeline. Message
// lifecycle and session-idle events update the accumulator; every
// event is also dispatched to destinations subscribed to its type.
// Returns the delivery results for the direct dispatch; completions
// triggered by an idle event are dispatched separately under
// event.TypeAgentCompleted.
func (n *Notifier) HandleEvent(ctx context.Context, eventType string, fields map[string]any) []delivery.Result {
	switch eventType {
	case event.TypeMessagePartUpdated:
		n.aggregator.HandleMessagePart(event.PartFromFields(fields))
	case event.TypeMessageUpdated:
		n.aggregator.HandleMessageUpdated(event.UpdateFromFields(fields))
	case event.TypeSessionIdle:
		n.aggregator.HandleSessionIdle(event.IdleFromFields(fields))
	}
	return n.dispatcher.HandleEvent(ctx, eventType, fields)
}

// Dispatcher exposes the underlying dispatcher for hosts that emit
// their own event types directly.
func (n *Notifier) Dispatcher() *dispatch.Dispatcher {
	return n.dispatcher
}

// Close shuts the pipeline down: pending debounce timers and
// rate-limit flushes are cancelled, nothing further is emitted.
func (n *Notifier) Close() {
	n.aggregator.Close()
	n.dispatcher.Close()
}
