package context

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stupiduntilnot/xj10/internal/db"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.OpenDB(t.TempDir() + "/conversation.db")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.InitSchema(database); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestSQLiteStore_Recent(t *testing.T) {
	s := NewSQLiteStore(setupTestDB(t))

	if _, err := s.Append("user", "hello"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append("assistant", "hi there"); err != nil {
		t.Fatal(err)
	}

	last, err := s.Recent(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 1 || last[0].Role != "assistant" || last[0].Content != "hi there" {
		t.Fatalf("unexpected recent(1): %+v", last)
	}

	all, err := s.Recent(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(all))
	}
	if all[0].Content != "hello" || all[1].Content != "hi there" {
		t.Errorf("expected oldest first, got %+v", all)
	}
}

func TestSQLiteStore_RecentReturnsLastN(t *testing.T) {
	s := NewSQLiteStore(setupTestDB(t))
	const total = 7
	for i := 0; i < total; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if _, err := s.Append(role, fmt.Sprintf("msg%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	for limit := 1; limit <= total+2; limit++ {
		msgs, err := s.Recent(limit)
		if err != nil {
			t.Fatal(err)
		}
		want := limit
		if want > total {
			want = total
		}
		if len(msgs) != want {
			t.Fatalf("limit=%d: expected %d messages, got %d", limit, want, len(msgs))
		}
		for i, m := range msgs {
			expected := fmt.Sprintf("msg%d", total-want+i)
			if m.Content != expected {
				t.Errorf("limit=%d index=%d: expected %q, got %q", limit, i, expected, m.Content)
			}
		}
	}
}

func TestSQLiteStore_RecentNonPositiveLimit(t *testing.T) {
	s := NewSQLiteStore(setupTestDB(t))
	s.Append("user", "a")
	for _, limit := range []int{0, -3} {
		msgs, err := s.Recent(limit)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 0 {
			t.Errorf("limit=%d: expected no messages, got %d", limit, len(msgs))
		}
	}
}

func TestSQLiteStore_Empty(t *testing.T) {
	s := NewSQLiteStore(setupTestDB(t))
	msgs, err := s.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected 0 messages, got %d", len(msgs))
	}
	n, err := s.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected count 0, got %d", n)
	}
}

func TestSQLiteStore_InvalidRole(t *testing.T) {
	s := NewSQLiteStore(setupTestDB(t))
	_, err := s.Append("system", "nope")
	if !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	n, _ := s.Count()
	if n != 0 {
		t.Fatalf("invalid message should not be stored, count=%d", n)
	}
}

func TestSQLiteStore_TimestampsNonDecreasing(t *testing.T) {
	s := NewSQLiteStore(setupTestDB(t))
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(-time.Hour), base.Add(time.Second)}
	i := 0
	s.now = func() time.Time {
		ts := clock[i]
		i++
		return ts
	}

	for _, text := range []string{"a", "b", "c"} {
		if _, err := s.Append("user", text); err != nil {
			t.Fatal(err)
		}
	}
	msgs, err := s.Recent(3)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
			t.Errorf("timestamp went backwards at %d: %v < %v", i, msgs[i].Timestamp, msgs[i-1].Timestamp)
		}
	}
	if !msgs[1].Timestamp.Equal(base) {
		t.Errorf("expected clamped timestamp %v, got %v", base, msgs[1].Timestamp)
	}
}

func TestSQLiteStore_TimestampsNonDecreasingAcrossStores(t *testing.T) {
	database := setupTestDB(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	first := NewSQLiteStore(database)
	first.now = func() time.Time { return base }
	if _, err := first.Append("user", "a"); err != nil {
		t.Fatal(err)
	}

	second := NewSQLiteStore(database)
	second.now = func() time.Time { return base.Add(-time.Hour) }
	m, err := second.Append("assistant", "b")
	if err != nil {
		t.Fatal(err)
	}
	if !m.Timestamp.Equal(base) {
		t.Errorf("expected second store clamped to %v, got %v", base, m.Timestamp)
	}

	msgs, err := second.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if msgs[1].Timestamp.Before(msgs[0].Timestamp) {
		t.Errorf("timestamp went backwards: %v < %v", msgs[1].Timestamp, msgs[0].Timestamp)
	}
}

func TestSQLiteStore_StorageError(t *testing.T) {
	database := setupTestDB(t)
	s := NewSQLiteStore(database)
	database.Close()

	_, err := s.Append("user", "hello")
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if storageErr.Op != "append" {
		t.Errorf("expected op=append, got %q", storageErr.Op)
	}

	_, err = s.Recent(5)
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError from Recent, got %v", err)
	}
}

func TestSQLiteStore_ReadsNaiveTimestamps(t *testing.T) {
	database := setupTestDB(t)
	_, err := database.Exec(
		"INSERT INTO conversations (timestamp, role, content) VALUES (?, ?, ?)",
		"2025-06-01T10:20:30.123456", "user", "legacy",
	)
	if err != nil {
		t.Fatal(err)
	}
	s := NewSQLiteStore(database)
	msgs, err := s.Recent(1)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 6, 1, 10, 20, 30, 123456000, time.Local)
	if !msgs[0].Timestamp.Equal(want) {
		t.Errorf("expected naive timestamp read as local %v, got %v", want, msgs[0].Timestamp)
	}
}
