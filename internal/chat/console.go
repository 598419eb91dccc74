// Package chat implements the interactive read-dispatch-print loop.
package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/xj10/internal/agent"
	ctxpkg "github.com/stupiduntilnot/xj10/internal/context"
)

const maxLineBytes = 1 << 20

// Sender delivers one user message and returns the reply.
type Sender interface {
	Send(ctx context.Context, text string) (agent.Reply, error)
}

// Options configure a Console.
type Options struct {
	In        io.Reader
	Out       io.Writer
	AgentName string
	Agent     Sender

	// History backs the history command; nil reports history as disabled.
	History ctxpkg.Provider
	Window  int

	Renderer *Renderer
	Logger   *zap.Logger
}

// DisplayLimit is how many messages the history command shows when the
// prompt window is zero.
const DisplayLimit = 20

type Console struct {
	in        io.Reader
	agentName string
	agent     Sender
	history   ctxpkg.Provider
	window    int
	render    *Renderer
	logger    *zap.Logger
}

func NewConsole(opts Options) *Console {
	c := &Console{
		in:        opts.In,
		agentName: opts.AgentName,
		agent:     opts.Agent,
		history:   opts.History,
		window:    opts.Window,
		render:    opts.Renderer,
		logger:    opts.Logger,
	}
	if c.render == nil {
		c.render = NewRenderer(opts.Out, false)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

type readResult struct {
	line string
	err  error
}

// readLines feeds lines from r until EOF, a read error, or done is closed.
// The final result carries io.EOF or the scanner error.
func readLines(r io.Reader, done <-chan struct{}) <-chan readResult {
	out := make(chan readResult)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case out <- readResult{line: scanner.Text()}:
			case <-done:
				return
			}
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		select {
		case out <- readResult{err: err}:
		case <-done:
		}
	}()
	return out
}

// Run prints the banner and serves lines until a quit sentinel, end of
// input, or ctx cancellation. Only a terminal read failure is returned.
func (c *Console) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	lines := readLines(c.in, done)

	c.render.Welcome(c.agentName)
	for {
		c.render.Prompt()

		var res readResult
		select {
		case <-ctx.Done():
			c.render.Goodbye(true)
			return nil
		case r, ok := <-lines:
			if !ok {
				c.render.Goodbye(true)
				return nil
			}
			res = r
		}
		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				c.render.Goodbye(true)
				return nil
			}
			return fmt.Errorf("read input: %w", res.err)
		}

		input := strings.TrimSpace(res.line)
		switch {
		case isQuit(input):
			c.render.Goodbye(false)
			return nil
		case input == "":
			continue
		case strings.EqualFold(input, "history"):
			c.showHistory()
			continue
		}

		c.dispatch(ctx, input)
	}
}

func (c *Console) dispatch(ctx context.Context, input string) {
	reply, err := c.agent.Send(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("send failed", zap.Error(err))
		c.render.System("Error: %v", err)
		return
	}
	c.render.Reply(reply.Content)
}

func (c *Console) showHistory() {
	if c.history == nil {
		c.render.System("History is disabled.")
		return
	}
	limit := c.window
	if limit <= 0 {
		limit = DisplayLimit
	}
	messages, err := c.history.Recent(limit)
	if err != nil {
		c.render.System("Error: %v", err)
		return
	}
	if len(messages) == 0 {
		c.render.System("No conversation history yet.")
		return
	}
	c.render.System("Last %d messages:", len(messages))
	for _, m := range messages {
		c.render.Line(FormatMessage(m))
	}
	c.render.Line("")
}

// FormatMessage renders a stored message as a single history line.
func FormatMessage(m ctxpkg.Message) string {
	speaker := "User"
	if m.Role == ctxpkg.RoleAssistant {
		speaker = "Assistant"
	}
	if m.Timestamp.IsZero() {
		return fmt.Sprintf("%s: %s", speaker, m.Content)
	}
	return fmt.Sprintf("[%s] %s: %s", m.Timestamp.Local().Format("2006-01-02 15:04:05"), speaker, m.Content)
}

func isQuit(input string) bool {
	switch strings.ToLower(input) {
	case "quit", "exit", "q":
		return true
	}
	return false
}
