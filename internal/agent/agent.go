// Package agent runs one chat turn: history lookup, prompt assembly, a single
// blocking model call, and persistence of both sides of the exchange.
package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	ctxpkg "github.com/stupiduntilnot/xj10/internal/context"
	"github.com/stupiduntilnot/xj10/internal/control"
	"github.com/stupiduntilnot/xj10/internal/db"
	modelpkg "github.com/stupiduntilnot/xj10/internal/model"
)

// Settings describe the agent persona and the session it talks in.
type Settings struct {
	Name        string
	Description string
	Instruction string
	AppName     string
	UserID      string
	SessionID   string
	Model       string
}

// Store is the conversation log the agent reads from and appends to.
type Store interface {
	ctxpkg.Provider
	ctxpkg.Recorder
}

// Options are the explicit dependencies of an Agent.
type Options struct {
	Settings Settings
	Provider modelpkg.Provider

	// Store is optional; nil disables history.
	Store      Store
	Window     int
	Compressor ctxpkg.Compressor
	Assembler  ctxpkg.Assembler

	// DB receives lifecycle events when set. Events are parented under
	// ParentEventID.
	DB            *sql.DB
	ParentEventID *int64

	Policy control.Policy
	Logger *zap.Logger
	Now    func() time.Time
}

// Reply is the outcome of a successful turn.
type Reply struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

type Agent struct {
	settings   Settings
	provider   modelpkg.Provider
	store      Store
	window     int
	compressor ctxpkg.Compressor
	assembler  ctxpkg.Assembler
	db         *sql.DB
	parentID   *int64
	sessionID  *int64
	policy     control.Policy
	logger     *zap.Logger
	now        func() time.Time
}

// New builds an Agent. Provider is required.
func New(opts Options) (*Agent, error) {
	if opts.Provider == nil {
		return nil, errors.New("agent: model provider is required")
	}
	a := &Agent{
		settings:   opts.Settings,
		provider:   opts.Provider,
		store:      opts.Store,
		window:     opts.Window,
		compressor: opts.Compressor,
		assembler:  opts.Assembler,
		db:         opts.DB,
		parentID:   opts.ParentEventID,
		policy:     opts.Policy,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if a.compressor == nil {
		a.compressor = &ctxpkg.WindowCompressor{MaxMessages: opts.Window}
	}
	if a.assembler == nil {
		a.assembler = &ctxpkg.StandardAssembler{}
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

func (a *Agent) Name() string        { return a.settings.Name }
func (a *Agent) Description() string { return a.settings.Description }

// StartSession records the session the following turns belong to.
func (a *Agent) StartSession(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.sessionID = a.logEvent(a.parentID, db.EventSessionStarted, map[string]any{
		"app_name":   a.settings.AppName,
		"user_id":    a.settings.UserID,
		"session_id": a.settings.SessionID,
		"agent":      a.settings.Name,
		"model":      a.settings.Model,
	})
	a.logger.Debug("session started",
		zap.String("app_name", a.settings.AppName),
		zap.String("user_id", a.settings.UserID),
		zap.String("session_id", a.settings.SessionID))
	return nil
}

// Send runs a single turn for text. History is written only after the model
// has produced a non-empty reply.
func (a *Agent) Send(ctx context.Context, text string) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	parent := a.sessionID
	if parent == nil {
		parent = a.parentID
	}
	agentEventID := a.logEvent(parent, db.EventAgentStarted, map[string]any{
		"session_id": a.settings.SessionID,
		"user_id":    a.settings.UserID,
		"text":       truncate(text, 1000),
	})
	a.logger.Debug("calling agent", zap.String("agent", a.settings.Name), zap.String("text", truncate(text, 200)))

	reply, err := a.run(ctx, agentEventID, text)
	if err != nil {
		a.logEvent(parent, db.EventAgentFailed, map[string]any{
			"session_id": a.settings.SessionID,
			"error":      truncate(err.Error(), 1000),
		})
		a.logger.Debug("agent failed", zap.Error(err))
		return Reply{}, err
	}
	a.logEvent(parent, db.EventAgentCompleted, map[string]any{
		"session_id": a.settings.SessionID,
	})
	a.logger.Debug("agent response",
		zap.String("agent", a.settings.Name),
		zap.String("content", truncate(reply.Content, 200)),
		zap.Int("input_tokens", reply.InputTokens),
		zap.Int("output_tokens", reply.OutputTokens))
	return reply, nil
}

func (a *Agent) run(ctx context.Context, agentEventID *int64, text string) (Reply, error) {
	startedAt := a.now()

	var history []ctxpkg.Message
	if a.store != nil {
		// One extra row lets the compressor drop a reply cut off from its prompt.
		limit := a.window
		if limit > 0 {
			limit++
		}
		var err error
		history, err = a.store.Recent(limit)
		if err != nil {
			return Reply{}, err
		}
	}
	compressed := a.compressor.Compress(history)
	messages := a.assembler.Assemble(a.settings.Instruction, compressed, text)

	a.logEvent(agentEventID, db.EventContextAssembled, map[string]any{
		"original_count":   len(history),
		"compressed_count": len(compressed),
		"max_messages":     a.window,
		"system_tokens":    ctxpkg.EstimateTokens(a.settings.Instruction),
		"history_tokens":   ctxpkg.EstimateTokensFromMessages(compressed),
		"user_tokens":      ctxpkg.EstimateTokens(text),
	})

	reqCtx, cancel := control.WithDeadline(ctx, a.policy)
	defer cancel()

	a.logEvent(agentEventID, db.EventTurnStarted, map[string]any{
		"model_name": a.settings.Model,
	})
	turnStart := time.Now()
	resp, err := a.provider.ChatCompletion(reqCtx, messages)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			limitErr := &control.LimitError{
				Type:      control.LimitWallTime,
				Value:     int64(a.now().Sub(startedAt).Seconds()),
				Threshold: int64(a.policy.MaxWallTime.Seconds()),
			}
			a.recordLimit(agentEventID, limitErr)
			return Reply{}, &AgentError{Agent: a.settings.Name, Err: fmt.Errorf("%w: %w", limitErr, err)}
		}
		return Reply{}, &AgentError{Agent: a.settings.Name, Err: err}
	}
	if err := control.CheckWallTime(a.policy, startedAt, a.now()); err != nil {
		a.recordLimit(agentEventID, err)
		return Reply{}, &AgentError{Agent: a.settings.Name, Err: err}
	}

	a.logEvent(agentEventID, db.EventTurnCompleted, map[string]any{
		"model_name":    a.settings.Model,
		"latency_ms":    time.Since(turnStart).Milliseconds(),
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
	})

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return Reply{}, &AgentError{Agent: a.settings.Name, Err: ErrNoResponse}
	}

	// The two appends are not atomic; if the second fails the user row stays
	// and the storage error is returned.
	if a.store != nil {
		if _, err := a.store.Append(ctxpkg.RoleUser, text); err != nil {
			return Reply{}, err
		}
		if _, err := a.store.Append(ctxpkg.RoleAssistant, content); err != nil {
			return Reply{}, err
		}
	}

	return Reply{
		Content:      content,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}, nil
}

func (a *Agent) recordLimit(agentEventID *int64, err error) {
	var limitErr *control.LimitError
	if !errors.As(err, &limitErr) {
		return
	}
	a.logEvent(agentEventID, db.EventControlLimitReached, map[string]any{
		"limit_type": string(limitErr.Type),
		"value":      limitErr.Value,
		"threshold":  limitErr.Threshold,
	})
}

// logEvent writes an event when an event database is configured and returns
// its id for use as a parent.
func (a *Agent) logEvent(parentID *int64, eventType string, payload map[string]any) *int64 {
	if a.db == nil {
		return nil
	}
	id, err := db.LogEvent(a.db, parentID, eventType, payload)
	if err != nil {
		a.logger.Warn("log event failed", zap.String("event_type", eventType), zap.Error(err))
		return nil
	}
	return &id
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
