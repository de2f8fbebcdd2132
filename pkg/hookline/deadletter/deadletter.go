// Package deadletter holds deliveries that exhausted their retry
// budget. The queue is bounded and in-memory: entries survive for
// operator inspection or reprocessing, not across restarts.
package deadletter

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hookline/hookline/pkg/hookline/event"
)

// Entry is one exhausted delivery parked for later inspection.
type Entry struct {
	ID           string    `json:"id"`
	EventType    string    `json:"event_type"`
	URL          string    `json:"url"`
	Payload      []byte    `json:"payload"`
	ErrorMessage string    `json:"error_message"`
	StatusCode   int       `json:"status_code,omitempty"`
	Attempts     int       `json:"attempts"`
	FailedAt     time.Time `json:"failed_at"`
	RetryAfter   time.Time `json:"retry_after"`
}

// NewEntry builds an Entry from a failed payload. The payload is
// serialized immediately so the entry stays self-contained.
func NewEntry(p event.Payload, url, errMsg string, statusCode, attempts int) *Entry {
	data, _ := json.Marshal(p) // best effort; a nil payload blob is still inspectable
	return &Entry{
		ID:           uuid.New().String(),
		EventType:    p.Type,
		URL:          url,
		Payload:      data,
		ErrorMessage: errMsg,
		StatusCode:   statusCode,
		Attempts:     attempts,
		FailedAt:     time.Now().UTC(),
	}
}

// Config configures the dead letter queue.
type Config struct {
	// MaxSize limits the number of parked entries.
	// Default: 1000. The oldest entry is dropped when full.
	MaxSize int

	// RetryDelay is how long an entry waits before Dequeue considers
	// it ready. Default: 1 minute.
	RetryDelay time.Duration

	// OnEnqueue is called when an entry is added.
	OnEnqueue func(*Entry)

	// OnDrop is called when a full queue evicts its oldest entry.
	OnDrop func(*Entry)

	// Now overrides the clock (for tests).
	Now func() time.Time
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	MaxSize:    1000,
	RetryDelay: 1 * time.Minute,
}

// Stats reports queue counters.
type Stats struct {
	Enqueued int64
	Dequeued int64
	Dropped  int64
	Size     int
}

// Queue is a bounded in-memory dead letter queue.
type Queue struct {
	cfg Config

	mu      sync.Mutex
	entries []*Entry // FIFO by enqueue order

	enqueued int64
	dequeued int64
	dropped  int64
}

// New creates a dead letter queue.
func New(cfg Config) *Queue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig.MaxSize
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig.RetryDelay
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Queue{cfg: cfg}
}

// Enqueue parks an exhausted delivery. A full queue evicts its oldest
// entry to make room; dead letters are a diagnostic aid, never a
// reason to fail the pipeline.
func (q *Queue) Enqueue(e *Entry) {
	q.mu.Lock()

	if e.RetryAfter.IsZero() {
		e.RetryAfter = q.cfg.Now().Add(q.cfg.RetryDelay)
	}

	var evicted *Entry
	if len(q.entries) >= q.cfg.MaxSize {
		evicted = q.entries[0]
		q.entries = q.entries[1:]
		q.dropped++
	}

	q.entries = append(q.entries, e)
	q.enqueued++
	q.mu.Unlock()

	if evicted != nil && q.cfg.OnDrop != nil {
		q.cfg.OnDrop(evicted)
	}
	if q.cfg.OnEnqueue != nil {
		q.cfg.OnEnqueue(e)
	}
}

// Dequeue removes and returns up to limit entries whose retry delay
// has elapsed, oldest first.
func (q *Queue) Dequeue(limit int) []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.cfg.Now()
	ready := make([]*Entry, 0, limit)
	kept := q.entries[:0]
	for _, e := range q.entries {
		if len(ready) < limit && !e.RetryAfter.After(now) {
			ready = append(ready, e)
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	q.dequeued += int64(len(ready))
	return ready
}

// Peek returns the parked entries without removing them, oldest first.
func (q *Queue) Peek() []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Entry(nil), q.entries...)
}

// Len returns the number of parked entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Stats returns queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Enqueued: q.enqueued,
		Dequeued: q.dequeued,
		Dropped:  q.dropped,
		Size:     len(q.entries),
	}
}
