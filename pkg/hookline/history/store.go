// Package history provides a delivery result log.
//
// The pipeline itself never persists queued events; the history store
// is an audit trail of completed attempt-sequences for inspection and
// debugging. Implementations must be safe for concurrent use.
package history

import (
	"errors"
	"time"

	"github.com/hookline/hookline/pkg/hookline/delivery"
)

// Record is one logged delivery outcome.
type Record struct {
	ID         string
	EventType  string
	URL        string
	Success    bool
	StatusCode int
	Error      string
	Attempts   int
	Queued     bool
	Timestamp  time.Time
}

// FromResult builds a Record from a delivery result.
// The caller supplies the record ID and event type; Timestamp defaults
// to now when zero.
func FromResult(id, eventType string, res delivery.Result) Record {
	return Record{
		ID:         id,
		EventType:  eventType,
		URL:        res.URL,
		Success:    res.Success,
		StatusCode: res.StatusCode,
		Error:      res.Error,
		Attempts:   res.Attempts,
		Queued:     res.Queued,
		Timestamp:  time.Now().UTC(),
	}
}

// Store persists delivery records.
type Store interface {
	// Append logs one delivery record.
	Append(rec Record) error

	// List returns records for a destination URL, most recent first,
	// up to limit (0 = no limit). Returns an empty slice (not an
	// error) if the destination has no records.
	List(url string, limit int) ([]Record, error)

	// Recent returns the most recent records across all destinations,
	// up to limit (0 = no limit).
	Recent(limit int) ([]Record, error)

	// Prune removes records older than the cutoff and reports how
	// many were removed.
	Prune(before time.Time) (int, error)

	// Close releases any resources (connections, files).
	Close() error
}

// ErrStoreClosed indicates the store has been closed.
var ErrStoreClosed = errors.New("history store closed")
