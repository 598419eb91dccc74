package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Process and session lifecycle events.
const (
	EventProcessStarted = "process.started"
	EventProcessExited  = "process.exited"
	EventSessionStarted = "session.started"
)

// Agent turn events.
const (
	EventAgentStarted        = "agent.started"
	EventAgentCompleted      = "agent.completed"
	EventAgentFailed         = "agent.failed"
	EventTurnStarted         = "turn.started"
	EventTurnCompleted       = "turn.completed"
	EventContextAssembled    = "context.assembled"
	EventControlLimitReached = "control.limit_reached"
)

// RoleChat is the process role recorded by the chat front end.
const RoleChat = "chat"

// ErrNoRun is returned when no chat run has been recorded yet.
var ErrNoRun = errors.New("no chat process.started event found")

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// LogEvent appends an event and returns its id. A nil parentID marks a root
// event; a nil payload is stored as NULL.
func LogEvent(e Execer, parentID *int64, eventType string, payload map[string]any) (int64, error) {
	var encoded sql.NullString
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal event payload: %w", err)
		}
		encoded = sql.NullString{String: string(data), Valid: true}
	}

	res, err := e.Exec(
		`INSERT INTO events (parent_id, event_type, payload) VALUES (?, ?, ?)`,
		parentID, eventType, encoded,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", eventType, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get event id: %w", err)
	}
	return id, nil
}

// LatestRunRoot returns the id of the most recent chat process.started event.
func LatestRunRoot(database *sql.DB) (int64, error) {
	var id int64
	err := database.QueryRow(
		`SELECT id FROM events WHERE event_type = ?
		 AND json_extract(payload, '$.role') = ?
		 ORDER BY id DESC LIMIT 1`,
		EventProcessStarted, RoleChat,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNoRun
	}
	if err != nil {
		return 0, fmt.Errorf("find latest run: %w", err)
	}
	return id, nil
}
