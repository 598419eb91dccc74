package agent

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	ctxpkg "github.com/stupiduntilnot/xj10/internal/context"
	"github.com/stupiduntilnot/xj10/internal/control"
	"github.com/stupiduntilnot/xj10/internal/db"
	"github.com/stupiduntilnot/xj10/internal/dummy"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testInstruction = "You are a music expert."

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.OpenDB(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema(database))
	t.Cleanup(func() { database.Close() })
	return database
}

type fixture struct {
	agent    *Agent
	provider *dummy.Provider
	store    *ctxpkg.SQLiteStore
	db       *sql.DB
}

func newFixture(t *testing.T, script string, mutate func(*Options)) fixture {
	t.Helper()
	database := openTestDB(t)
	provider, err := dummy.NewProvider("dummy", script)
	require.NoError(t, err)
	store := ctxpkg.NewSQLiteStore(database)
	opts := Options{
		Settings: Settings{
			Name:        "XJ10",
			Description: "Music agent",
			Instruction: testInstruction,
			AppName:     "XJ10",
			UserID:      "Roboto",
			SessionID:   "roboto_session",
			Model:       "gemma3",
		},
		Provider: provider,
		Store:    store,
		Window:   20,
		DB:       database,
		Policy:   control.DefaultPolicy(),
		Logger:   zaptest.NewLogger(t),
	}
	if mutate != nil {
		mutate(&opts)
	}
	a, err := New(opts)
	require.NoError(t, err)
	return fixture{agent: a, provider: provider, store: store, db: database}
}

func eventTypes(t *testing.T, database *sql.DB) []string {
	t.Helper()
	rows, err := database.Query(`SELECT event_type FROM events ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var et string
		require.NoError(t, rows.Scan(&et))
		out = append(out, et)
	}
	require.NoError(t, rows.Err())
	return out
}

var ignoreStored = cmpopts.IgnoreFields(ctxpkg.Message{}, "ID", "Timestamp")

func TestNew_RequiresProvider(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestSend_PersistsBothSides(t *testing.T) {
	f := newFixture(t, "msg:Jazz began in New Orleans (✿◠‿◠)", nil)

	reply, err := f.agent.Send(context.Background(), "where did jazz start?")
	require.NoError(t, err)
	assert.Equal(t, "Jazz began in New Orleans (✿◠‿◠)", reply.Content)
	assert.Equal(t, 1, reply.InputTokens)
	assert.Equal(t, 1, reply.OutputTokens)

	got, err := f.store.Recent(5)
	require.NoError(t, err)
	want := []ctxpkg.Message{
		{Role: ctxpkg.RoleUser, Content: "where did jazz start?"},
		{Role: ctxpkg.RoleAssistant, Content: "Jazz began in New Orleans (✿◠‿◠)"},
	}
	if diff := cmp.Diff(want, got, ignoreStored); diff != "" {
		t.Fatalf("stored history mismatch (-want +got):\n%s", diff)
	}
}

func TestSend_PromptCarriesHistory(t *testing.T) {
	f := newFixture(t, "msg:first,msg:second", nil)
	ctx := context.Background()

	_, err := f.agent.Send(ctx, "hello")
	require.NoError(t, err)
	_, err = f.agent.Send(ctx, "what did I say?")
	require.NoError(t, err)

	calls := f.provider.Calls()
	require.Len(t, calls, 2)

	wantFirst := []ctxpkg.Message{
		{Role: ctxpkg.RoleSystem, Content: testInstruction},
		{Role: ctxpkg.RoleUser, Content: ctxpkg.BuildPrompt(nil, "hello")},
	}
	if diff := cmp.Diff(wantFirst, calls[0]); diff != "" {
		t.Fatalf("first call mismatch (-want +got):\n%s", diff)
	}

	history := []ctxpkg.Message{
		{Role: ctxpkg.RoleUser, Content: "hello"},
		{Role: ctxpkg.RoleAssistant, Content: "first"},
	}
	wantSecond := []ctxpkg.Message{
		{Role: ctxpkg.RoleSystem, Content: testInstruction},
		{Role: ctxpkg.RoleUser, Content: ctxpkg.BuildPrompt(history, "what did I say?")},
	}
	if diff := cmp.Diff(wantSecond, calls[1]); diff != "" {
		t.Fatalf("second call mismatch (-want +got):\n%s", diff)
	}
}

func TestSend_WindowBoundsHistory(t *testing.T) {
	f := newFixture(t, "ok", func(o *Options) { o.Window = 2 })
	ctx := context.Background()
	for _, msg := range []string{"one", "two", "three"} {
		_, err := f.agent.Send(ctx, msg)
		require.NoError(t, err)
	}

	calls := f.provider.Calls()
	require.Len(t, calls, 3)
	history := []ctxpkg.Message{
		{Role: ctxpkg.RoleUser, Content: "two"},
		{Role: ctxpkg.RoleAssistant, Content: "dummy-ok"},
	}
	assert.Equal(t, ctxpkg.BuildPrompt(history, "three"), calls[2][1].Content)
}

func TestSend_OddWindowSkipsOrphanedReply(t *testing.T) {
	f := newFixture(t, "ok", func(o *Options) { o.Window = 3 })
	ctx := context.Background()
	for _, msg := range []string{"one", "two", "three"} {
		_, err := f.agent.Send(ctx, msg)
		require.NoError(t, err)
	}

	calls := f.provider.Calls()
	require.Len(t, calls, 3)
	history := []ctxpkg.Message{
		{Role: ctxpkg.RoleUser, Content: "two"},
		{Role: ctxpkg.RoleAssistant, Content: "dummy-ok"},
	}
	assert.Equal(t, ctxpkg.BuildPrompt(history, "three"), calls[2][1].Content)
}

func TestSend_WithoutStore(t *testing.T) {
	f := newFixture(t, "msg:hi", func(o *Options) { o.Store = nil })
	ctx := context.Background()

	_, err := f.agent.Send(ctx, "first")
	require.NoError(t, err)
	_, err = f.agent.Send(ctx, "second")
	require.NoError(t, err)

	calls := f.provider.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, ctxpkg.BuildPrompt(nil, "second"), calls[1][1].Content)

	n, err := f.store.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSend_EmptyReply(t *testing.T) {
	f := newFixture(t, "msg:   ", nil)

	_, err := f.agent.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoResponse)

	var agentErr *AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, "XJ10", agentErr.Agent)

	n, err := f.store.Count()
	require.NoError(t, err)
	assert.Zero(t, n, "a failed turn must not be persisted")
}

func TestSend_ProviderError(t *testing.T) {
	f := newFixture(t, "err:provider_api", nil)

	_, err := f.agent.Send(context.Background(), "hello")
	require.Error(t, err)
	var agentErr *AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Contains(t, err.Error(), "class=provider_api")

	n, err := f.store.Count()
	require.NoError(t, err)
	assert.Zero(t, n)

	types := eventTypes(t, f.db)
	assert.Contains(t, types, db.EventAgentFailed)
	assert.NotContains(t, types, db.EventAgentCompleted)
}

func TestSend_StorageErrorSurfaces(t *testing.T) {
	f := newFixture(t, "ok", func(o *Options) { o.DB = nil })
	require.NoError(t, f.db.Close())

	_, err := f.agent.Send(context.Background(), "hello")
	var storageErr *ctxpkg.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Empty(t, f.provider.Calls(), "model must not be called without history")
}

// replyFailingStore accepts user rows and rejects assistant rows.
type replyFailingStore struct {
	*ctxpkg.SQLiteStore
}

func (s replyFailingStore) Append(role, text string) (ctxpkg.Message, error) {
	if role == ctxpkg.RoleAssistant {
		return ctxpkg.Message{}, &ctxpkg.StorageError{Op: "append", Err: errors.New("disk full")}
	}
	return s.SQLiteStore.Append(role, text)
}

func TestSend_AssistantAppendFailureKeepsUserRow(t *testing.T) {
	f := newFixture(t, "ok", func(o *Options) {
		o.Store = replyFailingStore{o.Store.(*ctxpkg.SQLiteStore)}
	})

	_, err := f.agent.Send(context.Background(), "hello")
	var storageErr *ctxpkg.StorageError
	require.ErrorAs(t, err, &storageErr)

	stored, err := f.store.Recent(10)
	require.NoError(t, err)
	want := []ctxpkg.Message{{Role: ctxpkg.RoleUser, Content: "hello"}}
	if diff := cmp.Diff(want, stored, ignoreStored); diff != "" {
		t.Errorf("stored rows mismatch (-want +got):\n%s", diff)
	}
}

func TestSend_DeadlineRecordsLimit(t *testing.T) {
	f := newFixture(t, "sleep:2000", func(o *Options) {
		o.Policy = control.Policy{MaxWallTime: 20 * time.Millisecond}
	})

	_, err := f.agent.Send(context.Background(), "slow")
	require.Error(t, err)
	var limitErr *control.LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, control.LimitWallTime, limitErr.Type)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, eventTypes(t, f.db), db.EventControlLimitReached)
}

func TestSend_WallTimeCheckedAfterReply(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		if calls == 1 {
			return start
		}
		return start.Add(3 * time.Minute)
	}
	f := newFixture(t, "ok", func(o *Options) { o.Now = clock })

	_, err := f.agent.Send(context.Background(), "hello")
	var limitErr *control.LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, int64(180), limitErr.Value)
	assert.Equal(t, int64(120), limitErr.Threshold)

	n, err := f.store.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSend_CancelledContext(t *testing.T) {
	f := newFixture(t, "ok", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.agent.Send(ctx, "hello")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.provider.Calls())
}

func TestSend_EventTree(t *testing.T) {
	f := newFixture(t, "ok", nil)
	ctx := context.Background()
	root, err := db.LogEvent(f.db, nil, db.EventProcessStarted, map[string]any{"role": db.RoleChat})
	require.NoError(t, err)
	f.agent.parentID = &root

	require.NoError(t, f.agent.StartSession(ctx))
	_, err = f.agent.Send(ctx, "hello")
	require.NoError(t, err)

	want := []string{
		db.EventProcessStarted,
		db.EventSessionStarted,
		db.EventAgentStarted,
		db.EventContextAssembled,
		db.EventTurnStarted,
		db.EventTurnCompleted,
		db.EventAgentCompleted,
	}
	if diff := cmp.Diff(want, eventTypes(t, f.db)); diff != "" {
		t.Fatalf("event sequence mismatch (-want +got):\n%s", diff)
	}

	var sessionParent, agentParent int64
	require.NoError(t, f.db.QueryRow(
		`SELECT parent_id FROM events WHERE event_type = ?`, db.EventSessionStarted).Scan(&sessionParent))
	assert.Equal(t, root, sessionParent)
	require.NoError(t, f.db.QueryRow(
		`SELECT parent_id FROM events WHERE event_type = ?`, db.EventAgentStarted).Scan(&agentParent))
	assert.Equal(t, *f.agent.sessionID, agentParent)

	var sessionID string
	require.NoError(t, f.db.QueryRow(
		`SELECT json_extract(payload, '$.session_id') FROM events WHERE event_type = ?`,
		db.EventSessionStarted).Scan(&sessionID))
	assert.Equal(t, "roboto_session", sessionID)
}

func TestSend_AgentErrorUnwraps(t *testing.T) {
	inner := errors.New("boom")
	err := error(&AgentError{Agent: "XJ10", Err: inner})
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "agent XJ10: boom", err.Error())
}
