package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/xj10/internal/chat"
	"github.com/stupiduntilnot/xj10/internal/config"
	ctxpkg "github.com/stupiduntilnot/xj10/internal/context"
	"github.com/stupiduntilnot/xj10/internal/db"
	"github.com/stupiduntilnot/xj10/internal/eventtree"
	"github.com/stupiduntilnot/xj10/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(nil).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "[xj10] %v\n", err)
		return 1
	}
	return 0
}

// app carries global flag values and the state built in PersistentPreRunE.
type app struct {
	configPath string
	dbPath     string
	provider   string
	model      string
	noHistory  bool
	verbose    bool

	cfg    config.ChatConfig
	logger *zap.Logger

	// newLogger is replaced in tests.
	newLogger func(level, file string) (*zap.Logger, error)
}

func newRootCmd(newLogger func(level, file string) (*zap.Logger, error)) *cobra.Command {
	a := &app{newLogger: newLogger}
	if a.newLogger == nil {
		a.newLogger = logging.New
	}

	root := &cobra.Command{
		Use:   "xj10",
		Short: "XJ10 - terminal chat with a local music agent",
		Long: `xj10 is a terminal chatbot. Messages are sent to a language model
(Ollama by default) together with a window of the conversation history,
which is kept in a local SQLite database.

Run without arguments to start the interactive chat.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		RunE: a.runChat,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default $XJ10_CONFIG_DIR/config.yaml)")
	pf.StringVar(&a.dbPath, "db", "", "SQLite database path (overrides XJ10_DB_PATH)")
	pf.StringVar(&a.provider, "provider", "", "model provider: ollama, openai, gemini, dummy")
	pf.StringVar(&a.model, "model", "", "model name (overrides XJ10_MODEL)")
	pf.BoolVar(&a.noHistory, "no-history", false, "do not read or record conversation history")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		&cobra.Command{
			Use:   "chat",
			Short: "Start the interactive chat (default)",
			Args:  cobra.NoArgs,
			RunE:  a.runChat,
		},
		&cobra.Command{
			Use:   "ask [message...]",
			Short: "Send a single message and print the reply",
			Args:  cobra.MinimumNArgs(1),
			RunE:  a.runAsk,
		},
		a.historyCmd(),
		a.eventsCmd(),
	)
	return root
}

// setup layers flags over the loaded config and builds the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadChatConfig(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = a.dbPath
	}
	if flags.Changed("provider") {
		cfg.ModelProvider = a.provider
	}
	if flags.Changed("model") {
		cfg.Model = a.model
	}
	if a.noHistory {
		cfg.HistoryEnabled = false
	}
	if a.verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := a.newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	a.logger = logger.With(zap.String("app", cfg.AppName))
	a.logger.Debug("config loaded",
		zap.String("config_file", cfg.ConfigFile),
		zap.String("provider", cfg.ModelProvider),
		zap.String("model", cfg.Model),
		zap.String("db_path", cfg.DBPath),
		zap.Bool("history_enabled", cfg.HistoryEnabled))
	return nil
}

func (a *app) runChat(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	s, err := a.openSession(ctx, cmd.Name())
	if err != nil {
		return err
	}
	defer func() { s.close(err) }()

	out := cmd.OutOrStdout()
	console := chat.NewConsole(chat.Options{
		In:        cmd.InOrStdin(),
		Out:       out,
		AgentName: s.agent.Name(),
		Agent:     s.agent,
		History:   s.history(),
		Window:    a.cfg.HistoryWindow,
		Renderer:  chat.NewRenderer(out, isTerminal(out)),
		Logger:    a.logger,
	})
	return console.Run(ctx)
}

func (a *app) runAsk(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	s, err := a.openSession(ctx, cmd.Name())
	if err != nil {
		return err
	}
	defer func() { s.close(err) }()

	reply, err := s.agent.Send(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply.Content)
	return nil
}

func (a *app) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print stored conversation messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.HistoryWindow
				if limit <= 0 {
					limit = chat.DisplayLimit
				}
			}
			database, err := db.OpenDB(a.cfg.DBPath)
			if err != nil {
				return err
			}
			defer database.Close()
			if err := db.InitSchema(database); err != nil {
				return fmt.Errorf("failed to init schema: %w", err)
			}

			messages, err := ctxpkg.NewSQLiteStore(database).Recent(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(messages) == 0 {
				fmt.Fprintln(out, "No conversation history yet.")
				return nil
			}
			for _, m := range messages {
				fmt.Fprintln(out, chat.FormatMessage(m))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of messages to show (default: history window)")
	return cmd
}

func (a *app) eventsCmd() *cobra.Command {
	var (
		eventID int64
		opts    eventtree.Options
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the event tree of the latest chat run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := db.OpenReadOnly(a.cfg.DBPath)
			if err != nil {
				return err
			}
			defer database.Close()

			rootID := eventID
			if rootID == 0 {
				rootID, err = db.LatestRunRoot(database)
				if err != nil {
					return fmt.Errorf("find chat root: %w", err)
				}
			}
			root, err := eventtree.Load(database, rootID)
			if err != nil {
				return err
			}
			if jsonOut {
				return eventtree.WriteJSON(cmd.OutOrStdout(), root, opts)
			}
			return eventtree.WriteTree(cmd.OutOrStdout(), root, opts)
		},
	}
	f := cmd.Flags()
	f.Int64Var(&eventID, "id", 0, "show subtree of a specific event ID")
	f.IntVarP(&opts.MaxDepth, "depth", "L", 0, "limit display depth (0 = unlimited)")
	f.BoolVar(&jsonOut, "json", false, "output JSON format")
	f.BoolVar(&opts.NoPayload, "no-payload", false, "hide payload details")
	return cmd
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
