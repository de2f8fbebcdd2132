package benchmarks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/hookline/hookline/pkg/hookline/aggregate"
	"github.com/hookline/hookline/pkg/hookline/delivery"
	"github.com/hookline/hookline/pkg/hookline/dispatch"
	"github.com/hookline/hookline/pkg/hookline/event"
)

// nullDoer resolves every request with 200 and no body, measuring
// framework overhead rather than transport cost.
type nullDoer struct{}

func (nullDoer) Do(*http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}, nil
}

func newDispatcher(fanout int) *dispatch.Dispatcher {
	dests := make([]*delivery.Destination, fanout)
	for i := range dests {
		dests[i] = &delivery.Destination{
			URL:        fmt.Sprintf("https://hooks.example.com/%d", i),
			EventTypes: []string{event.TypeAgentCompleted},
		}
	}
	return dispatch.New(dispatch.Config{
		Destinations: dests,
		Client:       delivery.NewClient(delivery.WithDoer(nullDoer{})),
	})
}

// BenchmarkHandleEvent_SingleDestination measures dispatch overhead
// for the common one-destination case.
func BenchmarkHandleEvent_SingleDestination(b *testing.B) {
	d := newDispatcher(1)
	defer d.Close()
	fields := map[string]any{"sessionId": "s1", "summary": "done"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.HandleEvent(context.Background(), event.TypeAgentCompleted, fields)
	}
}

// BenchmarkHandleEvent_Fanout10 measures concurrent fan-out to ten
// destinations.
func BenchmarkHandleEvent_Fanout10(b *testing.B) {
	d := newDispatcher(10)
	defer d.Close()
	fields := map[string]any{"sessionId": "s1"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.HandleEvent(context.Background(), event.TypeAgentCompleted, fields)
	}
}

// BenchmarkHandleEvent_NoSubscribers measures the cost of an event no
// destination wants.
func BenchmarkHandleEvent_NoSubscribers(b *testing.B) {
	d := newDispatcher(1)
	defer d.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.HandleEvent(context.Background(), "unsubscribed.event", nil)
	}
}

// BenchmarkJoin measures the smart-separator join on a typical
// accumulated session.
func BenchmarkJoin(b *testing.B) {
	fragments := []string{
		"I looked into the failing test.",
		"The root cause is a stale cache entry.",
		"I am applying",
		"the fix now.",
		"All tests pass.",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		aggregate.Join(fragments)
	}
}
