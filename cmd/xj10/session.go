package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/xj10/internal/agent"
	"github.com/stupiduntilnot/xj10/internal/config"
	ctxpkg "github.com/stupiduntilnot/xj10/internal/context"
	"github.com/stupiduntilnot/xj10/internal/control"
	"github.com/stupiduntilnot/xj10/internal/db"
	"github.com/stupiduntilnot/xj10/internal/dummy"
	"github.com/stupiduntilnot/xj10/internal/gemini"
	modelpkg "github.com/stupiduntilnot/xj10/internal/model"
	"github.com/stupiduntilnot/xj10/internal/ollama"
	"github.com/stupiduntilnot/xj10/internal/openai"
)

// session is one process run: the database, the store and the agent, with
// the process.started event they hang under.
type session struct {
	db     *sql.DB
	store  *ctxpkg.SQLiteStore
	agent  *agent.Agent
	rootID *int64
	runID  string
	logger *zap.Logger
}

func (a *app) openSession(ctx context.Context, command string) (*session, error) {
	cfg := a.cfg
	s := &session{runID: uuid.NewString(), logger: a.logger.With(zap.String("command", command))}

	if cfg.DBPath != "" {
		database, err := db.OpenDB(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := db.InitSchema(database); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to init schema: %w", err)
		}
		s.db = database

		rootID, err := db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{
			"role":     db.RoleChat,
			"pid":      os.Getpid(),
			"run_id":   s.runID,
			"command":  command,
			"provider": cfg.ModelProvider,
			"model":    cfg.Model,
		})
		if err != nil {
			s.logger.Warn("failed to log process.started", zap.Error(err))
		} else {
			s.rootID = &rootID
		}
		if cfg.HistoryEnabled {
			s.store = ctxpkg.NewSQLiteStore(database)
		}
	}

	provider, err := newModelProvider(ctx, cfg)
	if err != nil {
		s.close(err)
		return nil, fmt.Errorf("failed to init model provider: %w", err)
	}

	opts := agent.Options{
		Settings: agent.Settings{
			Name:        cfg.AgentName,
			Description: cfg.AgentDescription,
			Instruction: cfg.AgentInstruction,
			AppName:     cfg.AppName,
			UserID:      cfg.UserID,
			SessionID:   cfg.SessionID,
			Model:       cfg.Model,
		},
		Provider:      provider,
		Window:        cfg.HistoryWindow,
		DB:            s.db,
		ParentEventID: s.rootID,
		Policy:        control.Policy{MaxWallTime: cfg.RequestTimeout()},
		Logger:        s.logger,
	}
	if s.store != nil {
		opts.Store = s.store
	}
	ag, err := agent.New(opts)
	if err != nil {
		s.close(err)
		return nil, err
	}
	if err := ag.StartSession(ctx); err != nil {
		s.close(err)
		return nil, err
	}
	s.agent = ag
	s.logger.Debug("session opened", zap.String("run_id", s.runID), zap.Bool("history", s.store != nil))
	return s, nil
}

// history returns the store for the console history command, or nil.
func (s *session) history() ctxpkg.Provider {
	if s.store == nil {
		return nil
	}
	return s.store
}

// close records process.exited and releases the database.
func (s *session) close(runErr error) {
	if s.db == nil {
		return
	}
	payload := map[string]any{"run_id": s.runID, "exit_code": 0}
	if runErr != nil {
		payload["exit_code"] = 1
		payload["error"] = runErr.Error()
	}
	if s.rootID != nil {
		if _, err := db.LogEvent(s.db, s.rootID, db.EventProcessExited, payload); err != nil {
			s.logger.Warn("failed to log process.exited", zap.Error(err))
		}
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("failed to close db", zap.Error(err))
	}
	s.db = nil
}

func newModelProvider(ctx context.Context, cfg config.ChatConfig) (modelpkg.Provider, error) {
	switch cfg.ModelProvider {
	case config.ProviderOllama:
		return ollama.NewClient(cfg.OllamaAPIBase, cfg.Model, cfg.RequestTimeout()), nil
	case config.ProviderOpenAI:
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIChatCompURL, cfg.Model, cfg.RequestTimeout()), nil
	case config.ProviderGemini:
		return gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.Model)
	case config.ProviderDummy:
		return dummy.NewProvider(cfg.Model, cfg.DummyProviderScript)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.ModelProvider)
	}
}
