// Package eventtree loads a subtree of the events table and renders it as a
// box-drawing tree or as nested JSON.
package eventtree

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// Event represents a row from the events table.
type Event struct {
	ID        int64
	Timestamp int64
	ParentID  sql.NullInt64
	EventType string
	Payload   sql.NullString
	Children  []*Event
}

// Options control rendering. MaxDepth 0 means unlimited.
type Options struct {
	MaxDepth  int
	NoPayload bool
}

// Load returns the tree rooted at rootID.
func Load(db *sql.DB, rootID int64) (*Event, error) {
	events, err := QuerySubtree(db, rootID)
	if err != nil {
		return nil, fmt.Errorf("query subtree: %w", err)
	}
	root := BuildTree(events, rootID)
	if root == nil {
		return nil, fmt.Errorf("event %d not found", rootID)
	}
	return root, nil
}

// QuerySubtree returns all events in the subtree rooted at rootID using a recursive CTE.
func QuerySubtree(db *sql.DB, rootID int64) ([]*Event, error) {
	rows, err := db.Query(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM events WHERE id = ?
			UNION ALL
			SELECT e.id FROM events e JOIN subtree s ON e.parent_id = s.id
		)
		SELECT e.id, e.timestamp, e.parent_id, e.event_type, e.payload
		FROM events e
		WHERE e.id IN (SELECT id FROM subtree)
		ORDER BY e.id ASC
	`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev := &Event{}
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.ParentID, &ev.EventType, &ev.Payload); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// BuildTree organizes a flat list of events into a tree rooted at rootID.
func BuildTree(events []*Event, rootID int64) *Event {
	byID := make(map[int64]*Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}
	for _, ev := range events {
		if ev.ParentID.Valid && ev.ParentID.Int64 != ev.ID {
			if parent, ok := byID[ev.ParentID.Int64]; ok {
				parent.Children = append(parent.Children, ev)
			}
		}
	}
	for _, ev := range events {
		sort.Slice(ev.Children, func(i, j int) bool {
			return ev.Children[i].ID < ev.Children[j].ID
		})
	}
	return byID[rootID]
}

type treeWriter struct {
	w    io.Writer
	opts Options
	err  error
}

func (t *treeWriter) println(s string) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintln(t.w, s)
}

// WriteTree renders root and its descendants using box-drawing characters.
func WriteTree(w io.Writer, root *Event, opts Options) error {
	tw := &treeWriter{w: w, opts: opts}
	tw.node(root, "", true, 1)
	return tw.err
}

func (t *treeWriter) node(ev *Event, prefix string, isLast bool, depth int) {
	connector := "├── "
	if isLast {
		connector = "└── "
	}
	line := FormatEvent(ev, t.opts.NoPayload)
	if depth == 1 {
		t.println(line)
	} else {
		t.println(prefix + connector + line)
	}

	childPrefix := prefix
	if depth > 1 {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}
	if t.opts.MaxDepth > 0 && depth >= t.opts.MaxDepth {
		if len(ev.Children) > 0 {
			t.println(childPrefix + "└── [...]")
		}
		return
	}
	for i, child := range ev.Children {
		t.node(child, childPrefix, i == len(ev.Children)-1, depth+1)
	}
}

// FormatEvent formats a single event line: [id] timestamp  event_type  key=value ...
func FormatEvent(ev *Event, noPayload bool) string {
	ts := time.Unix(ev.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s  %s", ev.ID, ts, ev.EventType)

	if m := decodePayload(ev, noPayload); m != nil {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s=%s", k, formatValue(m[k]))
		}
	}
	return b.String()
}

// formatValue converts a payload value to a display string. Long or
// multi-line text is quoted and cut at 80 characters.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		runes := []rune(val)
		if len(runes) > 80 {
			return fmt.Sprintf("%q", string(runes[:80])+"...")
		}
		if strings.ContainsAny(val, "\n\r\t") {
			return fmt.Sprintf("%q", val)
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", val)
	}
}

func decodePayload(ev *Event, noPayload bool) map[string]any {
	if noPayload || !ev.Payload.Valid || ev.Payload.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ev.Payload.String), &m); err != nil {
		return nil
	}
	return m
}

// JSONEvent is the nested JSON form of an event tree.
type JSONEvent struct {
	ID        int64       `json:"id"`
	Timestamp int64       `json:"timestamp"`
	EventType string      `json:"event_type"`
	Payload   any         `json:"payload,omitempty"`
	Children  []JSONEvent `json:"children,omitempty"`
}

// ToJSON converts root into its JSON form honoring opts.
func ToJSON(root *Event, opts Options) JSONEvent {
	return toJSONEvent(root, 1, opts)
}

func toJSONEvent(ev *Event, depth int, opts Options) JSONEvent {
	je := JSONEvent{
		ID:        ev.ID,
		Timestamp: ev.Timestamp,
		EventType: ev.EventType,
	}
	if m := decodePayload(ev, opts.NoPayload); m != nil {
		je.Payload = m
	}
	if opts.MaxDepth > 0 && depth >= opts.MaxDepth {
		return je
	}
	for _, child := range ev.Children {
		je.Children = append(je.Children, toJSONEvent(child, depth+1, opts))
	}
	return je
}

// WriteJSON writes the tree as indented JSON.
func WriteJSON(w io.Writer, root *Event, opts Options) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ToJSON(root, opts)); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
