package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/pkg/hookline/deadletter"
	"github.com/hookline/hookline/pkg/hookline/delivery"
	"github.com/hookline/hookline/pkg/hookline/event"
	"github.com/hookline/hookline/pkg/hookline/history"
	"github.com/hookline/hookline/pkg/hookline/schedule"
)

// fakeDoer returns a scripted status per URL and records request bodies.
type fakeDoer struct {
	mu       sync.Mutex
	statuses map[string]int
	requests []recordedRequest
}

type recordedRequest struct {
	url  string
	body []byte
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(req.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{url: req.URL.String(), body: body})
	status := f.statuses[req.URL.String()]
	f.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}, nil
}

func (f *fakeDoer) bodies(url string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, r := range f.requests {
		if r.url == url {
			out = append(out, r.body)
		}
	}
	return out
}

func (f *fakeDoer) count(url string) int {
	return len(f.bodies(url))
}

func newTestDispatcher(t *testing.T, doer *fakeDoer, dests ...*delivery.Destination) *Dispatcher {
	t.Helper()
	d := New(Config{
		Destinations: dests,
		Client:       delivery.NewClient(delivery.WithDoer(doer)),
	})
	t.Cleanup(d.Close)
	return d
}

func TestHandleEvent_RoutesBySubscription(t *testing.T) {
	doer := &fakeDoer{}
	d := newTestDispatcher(t, doer,
		&delivery.Destination{URL: "http://a.test/hook", EventTypes: []string{event.TypeSessionIdle}},
		&delivery.Destination{URL: "http://b.test/hook", EventTypes: []string{event.TypeAgentCompleted}},
		&delivery.Destination{URL: "http://c.test/hook", EventTypes: []string{event.TypeSessionIdle, event.TypeAgentCompleted}},
	)

	results := d.HandleEvent(context.Background(), event.TypeSessionIdle, map[string]any{"sessionId": "s1"})
	require.Len(t, results, 2)
	assert.Equal(t, "http://a.test/hook", results[0].URL)
	assert.Equal(t, "http://c.test/hook", results[1].URL)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)

	assert.Equal(t, 1, doer.count("http://a.test/hook"))
	assert.Equal(t, 0, doer.count("http://b.test/hook"))
	assert.Equal(t, 1, doer.count("http://c.test/hook"))
}

func TestHandleEvent_NoSubscribers(t *testing.T) {
	doer := &fakeDoer{}
	d := newTestDispatcher(t, doer,
		&delivery.Destination{URL: "http://a.test/hook", EventTypes: []string{event.TypeSessionIdle}},
	)

	results := d.HandleEvent(context.Background(), "unknown.event", nil)
	assert.Empty(t, results)
	assert.Empty(t, doer.requests)
}

func TestHandleEvent_PayloadCarriesTypeAndFields(t *testing.T) {
	doer := &fakeDoer{}
	d := newTestDispatcher(t, doer,
		&delivery.Destination{URL: "http://a.test/hook", EventTypes: []string{event.TypeAgentCompleted}},
	)

	d.HandleEvent(context.Background(), event.TypeAgentCompleted, map[string]any{
		"sessionId": "s1",
		"userId":    "u1",
		"summary":   "done",
	})

	bodies := doer.bodies("http://a.test/hook")
	require.Len(t, bodies, 1)

	var got map[string]any
	require.NoError(t, json.Unmarshal(bodies[0], &got))
	assert.Equal(t, event.TypeAgentCompleted, got["eventType"])
	assert.Equal(t, "s1", got["sessionId"])
	assert.Equal(t, "u1", got["userId"])
	assert.Equal(t, "done", got["summary"])
	assert.NotEmpty(t, got["timestamp"])
}

func TestHandleEvent_FilterSkipsDelivery(t *testing.T) {
	doer := &fakeDoer{}
	d := newTestDispatcher(t, doer,
		&delivery.Destination{
			URL:        "http://a.test/hook",
			EventTypes: []string{event.TypeSessionIdle},
			Filter:     func(p event.Payload) bool { return p.SessionID == "wanted" },
		},
	)

	results := d.HandleEvent(context.Background(), event.TypeSessionIdle, map[string]any{"sessionId": "other"})
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, 0, results[0].Attempts)
	assert.Empty(t, doer.requests)

	results = d.HandleEvent(context.Background(), event.TypeSessionIdle, map[string]any{"sessionId": "wanted"})
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, 1, results[0].Attempts)
	assert.Equal(t, 1, doer.count("http://a.test/hook"))
}

func TestHandleEvent_TransformAppliedOnce(t *testing.T) {
	doer := &fakeDoer{}
	calls := 0
	d := newTestDispatcher(t, doer,
		&delivery.Destination{
			URL:        "http://a.test/hook",
			EventTypes: []string{event.TypeSessionIdle},
			Transform: func(p event.Payload) any {
				calls++
				return map[string]string{"text": "session " + p.SessionID + " idle"}
			},
		},
	)

	d.HandleEvent(context.Background(), event.TypeSessionIdle, map[string]any{"sessionId": "s1"})

	assert.Equal(t, 1, calls)
	bodies := doer.bodies("http://a.test/hook")
	require.Len(t, bodies, 1)
	assert.JSONEq(t, `{"text":"session s1 idle"}`, string(bodies[0]))
}

func TestHandleEvent_PanickingTransformIsolated(t *testing.T) {
	doer := &fakeDoer{}
	d := newTestDispatcher(t, doer,
		&delivery.Destination{
			URL:        "http://bad.test/hook",
			EventTypes: []string{event.TypeSessionIdle},
			Transform:  func(event.Payload) any { panic("boom") },
		},
		&delivery.Destination{URL: "http://good.test/hook", EventTypes: []string{event.TypeSessionIdle}},
	)

	results := d.HandleEvent(context.Background(), event.TypeSessionIdle, map[string]any{"sessionId": "s1"})
	require.Len(t, results, 2)

	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "transform panic")
	assert.True(t, results[1].Success)
	assert.Equal(t, 1, doer.count("http://good.test/hook"))
}

func TestHandleEvent_PanickingFilterIsolated(t *testing.T) {
	doer := &fakeDoer{}
	d := newTestDispatcher(t, doer,
		&delivery.Destination{
			URL:        "http://bad.test/hook",
			EventTypes: []string{event.TypeSessionIdle},
			Filter:     func(event.Payload) bool { panic("boom") },
		},
		&delivery.Destination{URL: "http://good.test/hook", EventTypes: []string{event.TypeSessionIdle}},
	)

	results := d.HandleEvent(context.Background(), event.TypeSessionIdle, nil)
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "filter panic")
	assert.True(t, results[1].Success)
	assert.Empty(t, doer.bodies("http://bad.test/hook"))
}

func TestHandleEvent_FailedDestinationDoesNotAffectOthers(t *testing.T) {
	doer := &fakeDoer{statuses: map[string]int{"http://bad.test/hook": 500}}
	d := newTestDispatcher(t, doer,
		&delivery.Destination{
			URL:        "http://bad.test/hook",
			EventTypes: []string{event.TypeSessionIdle},
			Retry:      delivery.RetryPolicy{MaxAttempts: 1},
		},
		&delivery.Destination{URL: "http://good.test/hook", EventTypes: []string{event.TypeSessionIdle}},
	)

	results := d.HandleEvent(context.Background(), event.TypeSessionIdle, nil)
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.Equal(t, 500, results[0].StatusCode)
	assert.True(t, results[1].Success)
}

func TestHandleEvent_RateLimitedDestinationQueues(t *testing.T) {
	doer := &fakeDoer{}
	fs := schedule.NewFakeScheduler(time.Now())
	d := New(Config{
		Destinations: []*delivery.Destination{{
			URL:        "http://a.test/hook",
			EventTypes: []string{event.TypeSessionIdle},
			RateLimit:  &delivery.RateLimit{MaxRequests: 1, Window: time.Minute},
		}},
		Client:    delivery.NewClient(delivery.WithDoer(doer)),
		Now:       fs.Now,
		Scheduler: fs,
	})
	t.Cleanup(d.Close)

	first := d.HandleEvent(context.Background(), event.TypeSessionIdle, map[string]any{"sessionId": "s1"})
	require.Len(t, first, 1)
	assert.True(t, first[0].Success)
	assert.False(t, first[0].Queued)

	second := d.HandleEvent(context.Background(), event.TypeSessionIdle, map[string]any{"sessionId": "s2"})
	require.Len(t, second, 1)
	assert.True(t, second[0].Success)
	assert.True(t, second[0].Queued)
	assert.Equal(t, 1, doer.count("http://a.test/hook"))

	fs.Advance(time.Minute)
	assert.Equal(t, 2, doer.count("http://a.test/hook"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(doer.bodies("http://a.test/hook")[1], &got))
	assert.Equal(t, "s2", got["sessionId"])
}

func TestHandleEvent_MaxConcurrent(t *testing.T) {
	doer := &fakeDoer{}
	dests := make([]*delivery.Destination, 8)
	for i := range dests {
		dests[i] = &delivery.Destination{URL: "http://a.test/hook", EventTypes: []string{event.TypeSessionIdle}}
	}
	d := New(Config{
		Destinations:  dests,
		Client:        delivery.NewClient(delivery.WithDoer(doer)),
		MaxConcurrent: 2,
	})
	t.Cleanup(d.Close)

	results := d.HandleEvent(context.Background(), event.TypeSessionIdle, nil)
	require.Len(t, results, 8)
	for _, res := range results {
		assert.True(t, res.Success)
	}
	assert.Equal(t, 8, doer.count("http://a.test/hook"))
}

func TestHandleEvent_RecordsHistory(t *testing.T) {
	doer := &fakeDoer{statuses: map[string]int{"http://bad.test/hook": 503}}
	store := history.NewMemoryStore()
	d := New(Config{
		Destinations: []*delivery.Destination{
			{URL: "http://good.test/hook", EventTypes: []string{event.TypeSessionIdle}},
			{
				URL:        "http://bad.test/hook",
				EventTypes: []string{event.TypeSessionIdle},
				Retry:      delivery.RetryPolicy{MaxAttempts: 1},
			},
		},
		Client:  delivery.NewClient(delivery.WithDoer(doer)),
		History: store,
	})
	t.Cleanup(d.Close)

	d.HandleEvent(context.Background(), event.TypeSessionIdle, nil)

	recs, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, event.TypeSessionIdle, rec.EventType)
		assert.NotEmpty(t, rec.ID)
	}
}

func TestHandleEvent_DeadLettersExhaustedDeliveries(t *testing.T) {
	doer := &fakeDoer{statuses: map[string]int{"http://bad.test/hook": 500}}
	dlq := deadletter.New(deadletter.Config{})
	d := New(Config{
		Destinations: []*delivery.Destination{
			{URL: "http://good.test/hook", EventTypes: []string{event.TypeSessionIdle}},
			{
				URL:        "http://bad.test/hook",
				EventTypes: []string{event.TypeSessionIdle},
				Retry:      delivery.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
			},
		},
		Client:     delivery.NewClient(delivery.WithDoer(doer)),
		DeadLetter: dlq,
	})
	t.Cleanup(d.Close)

	d.HandleEvent(context.Background(), event.TypeSessionIdle, map[string]any{"sessionId": "s1"})

	require.Equal(t, 1, dlq.Len())
	entries := dlq.Peek()
	require.Len(t, entries, 1)
	assert.Equal(t, "http://bad.test/hook", entries[0].URL)
	assert.Equal(t, 500, entries[0].StatusCode)
	assert.Equal(t, 2, entries[0].Attempts)
}

func TestSubscribed(t *testing.T) {
	d := newTestDispatcher(t, &fakeDoer{},
		&delivery.Destination{URL: "http://a.test/hook", EventTypes: []string{event.TypeSessionIdle}},
	)

	assert.True(t, d.Subscribed(event.TypeSessionIdle))
	assert.False(t, d.Subscribed(event.TypeAgentCompleted))
}

func TestClose_CancelsPendingFlushes(t *testing.T) {
	doer := &fakeDoer{}
	fs := schedule.NewFakeScheduler(time.Now())
	d := New(Config{
		Destinations: []*delivery.Destination{{
			URL:        "http://a.test/hook",
			EventTypes: []string{event.TypeSessionIdle},
			RateLimit:  &delivery.RateLimit{MaxRequests: 1, Window: time.Minute},
		}},
		Client:    delivery.NewClient(delivery.WithDoer(doer)),
		Now:       fs.Now,
		Scheduler: fs,
	})

	d.HandleEvent(context.Background(), event.TypeSessionIdle, nil)
	d.HandleEvent(context.Background(), event.TypeSessionIdle, nil)
	require.Equal(t, 1, doer.count("http://a.test/hook"))

	d.Close()
	fs.Advance(time.Minute)
	assert.Equal(t, 1, doer.count("http://a.test/hook"))
}
