package context

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// TimestampLayout is the fixed-width ISO-8601 layout stored in the
// conversations table.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore is the append-only conversation log backed by the
// conversations table. It is the only writer of that table.
type SQLiteStore struct {
	DB *sql.DB

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewSQLiteStore wraps an initialized database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{DB: db, now: time.Now}
}

// Append records a message stamped with the current time. Timestamps never
// go backwards, even if the wall clock does or another store wrote last.
func (s *SQLiteStore) Append(role, text string) (Message, error) {
	if !ValidRole(role) {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	last, err := s.newest()
	if err != nil {
		return Message{}, &StorageError{Op: "append", Err: err}
	}
	if last.Before(s.last) {
		last = s.last
	}
	ts := now().UTC()
	if ts.Before(last) {
		ts = last
	}

	res, err := s.DB.Exec(
		"INSERT INTO conversations (timestamp, role, content) VALUES (?, ?, ?)",
		ts.Format(TimestampLayout), role, text,
	)
	if err != nil {
		return Message{}, &StorageError{Op: "append", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, &StorageError{Op: "append", Err: err}
	}
	s.last = ts
	return Message{ID: id, Role: role, Content: text, Timestamp: ts}, nil
}

// newest reads the timestamp of the last stored row, zero when empty.
func (s *SQLiteStore) newest() (time.Time, error) {
	var v string
	err := s.DB.QueryRow("SELECT timestamp FROM conversations ORDER BY id DESC LIMIT 1").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return parseTimestamp(v), nil
}

// Recent returns the most recent `limit` messages, ordered chronologically
// (oldest first). A non-positive limit yields no messages.
func (s *SQLiteStore) Recent(limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.DB.Query(
		"SELECT id, timestamp, role, content FROM conversations ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, &StorageError{Op: "recent", Err: err}
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var m Message
		var ts string
		if err := rows.Scan(&m.ID, &ts, &m.Role, &m.Content); err != nil {
			return nil, &StorageError{Op: "recent", Err: err}
		}
		m.Timestamp = parseTimestamp(ts)
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "recent", Err: err}
	}

	// Reverse to chronological order.
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}

// Count returns the number of stored messages.
func (s *SQLiteStore) Count() (int, error) {
	var n int
	if err := s.DB.QueryRow("SELECT COUNT(*) FROM conversations").Scan(&n); err != nil {
		return 0, &StorageError{Op: "count", Err: err}
	}
	return n, nil
}

// Rows written by older tools may carry naive ISO-8601 timestamps in local
// time.
var timestampLayouts = []string{TimestampLayout, time.RFC3339Nano, "2006-01-02T15:04:05.999999999"}

func parseTimestamp(v string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}
