package history

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists delivery records to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite delivery log.
// The path should be a file path (e.g., "./deliveries.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT NOT NULL PRIMARY KEY,
			event_type TEXT NOT NULL,
			url TEXT NOT NULL,
			success INTEGER NOT NULL,
			status_code INTEGER NOT NULL,
			error TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			queued INTEGER NOT NULL,
			timestamp TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_deliveries_url
		ON deliveries(url, timestamp)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO deliveries (id, event_type, url, success, status_code, error, attempts, queued, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.EventType, rec.URL, boolToInt(rec.Success), rec.StatusCode,
		rec.Error, rec.Attempts, boolToInt(rec.Queued), ts.UTC().Format(time.RFC3339Nano))

	if err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(url string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `
		SELECT id, event_type, url, success, status_code, error, attempts, queued, timestamp
		FROM deliveries WHERE url = ? ORDER BY timestamp DESC`
	args := []any{url}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Recent implements Store.
func (s *SQLiteStore) Recent(limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `
		SELECT id, event_type, url, success, status_code, error, attempts, queued, timestamp
		FROM deliveries ORDER BY timestamp DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Prune implements Store.
func (s *SQLiteStore) Prune(before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	res, err := s.db.Exec(`DELETE FROM deliveries WHERE timestamp < ?`,
		before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune records: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return int(n), nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	out := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var success, queued int
		var ts string
		if err := rows.Scan(&rec.ID, &rec.EventType, &rec.URL, &success,
			&rec.StatusCode, &rec.Error, &rec.Attempts, &queued, &ts); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Success = success != 0
		rec.Queued = queued != 0
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		rec.Timestamp = parsed
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
