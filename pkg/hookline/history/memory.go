package history

import (
	"sync"
	"time"
)

// MemoryStore is an in-memory delivery log for testing and
// single-process use. Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record // append order = chronological
	closed  bool
}

// NewMemoryStore creates a new in-memory delivery log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store.
func (m *MemoryStore) Append(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	m.records = append(m.records, rec)
	return nil
}

// List implements Store.
func (m *MemoryStore) List(url string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	out := make([]Record, 0)
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].URL != url {
			continue
		}
		out = append(out, m.records[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Recent implements Store.
func (m *MemoryStore) Recent(limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	out := make([]Record, 0)
	for i := len(m.records) - 1; i >= 0; i-- {
		out = append(out, m.records[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Prune implements Store.
func (m *MemoryStore) Prune(before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	kept := m.records[:0]
	removed := 0
	for _, rec := range m.records {
		if rec.Timestamp.Before(before) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	m.records = kept
	return removed, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.records = nil
	return nil
}

// Len returns the total number of records. Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
