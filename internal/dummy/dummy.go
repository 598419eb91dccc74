// Package dummy provides a scripted model provider for tests and offline runs.
//
// A script is a comma-separated list of steps replayed one per call; the last
// step repeats once the list is exhausted:
//
//	ok            reply "dummy-ok"
//	empty         reply with no content
//	echo          reply with the last message content
//	msg:<text>    reply text (no commas)
//	msgb64:<b64>  reply base64-decoded text
//	err:<class>   fail with "dummy provider error class=<class>"
//	sleep:<ms>    wait, honoring ctx, then reply "dummy-after-sleep"
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	ctxpkg "github.com/stupiduntilnot/xj10/internal/context"
	modelpkg "github.com/stupiduntilnot/xj10/internal/model"
)

type stepKind int

const (
	stepOK stepKind = iota
	stepEmpty
	stepEcho
	stepMsg
	stepMsgB64
	stepErr
	stepSleep
)

type step struct {
	kind stepKind
	text string
	wait time.Duration
}

var prefixed = []struct {
	prefix string
	parse  func(arg string) (step, error)
}{
	{"msgb64:", func(arg string) (step, error) {
		raw, err := base64.StdEncoding.DecodeString(arg)
		if err != nil {
			return step{}, fmt.Errorf("dummy provider msgb64 decode failed: %w", err)
		}
		return step{kind: stepMsgB64, text: string(raw)}, nil
	}},
	{"msg:", func(arg string) (step, error) { return step{kind: stepMsg, text: arg}, nil }},
	{"err:", func(arg string) (step, error) {
		if strings.TrimSpace(arg) == "" {
			arg = "provider_api"
		}
		return step{kind: stepErr, text: arg}, nil
	}},
	{"sleep:", func(arg string) (step, error) {
		ms, err := strconv.Atoi(arg)
		if err != nil || ms < 0 {
			return step{}, fmt.Errorf("invalid dummy sleep duration: %q", arg)
		}
		return step{kind: stepSleep, wait: time.Duration(ms) * time.Millisecond}, nil
	}},
}

func parseStep(token string) (step, error) {
	switch token {
	case "ok":
		return step{kind: stepOK}, nil
	case "empty":
		return step{kind: stepEmpty}, nil
	case "echo":
		return step{kind: stepEcho}, nil
	}
	for _, p := range prefixed {
		if arg, ok := strings.CutPrefix(token, p.prefix); ok {
			return p.parse(arg)
		}
	}
	return step{}, fmt.Errorf("invalid dummy action: %s", token)
}

func parseScript(script string) ([]step, error) {
	var steps []step
	for _, part := range strings.Split(script, ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		s, err := parseStep(token)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	if len(steps) == 0 {
		steps = []step{{kind: stepOK}}
	}
	return steps, nil
}

// Provider replays a script. It is safe for concurrent use.
type Provider struct {
	model string

	mu    sync.Mutex
	steps []step
	next  int
	calls [][]ctxpkg.Message
}

// NewProvider parses script; an empty script always replies "dummy-ok".
func NewProvider(model, script string) (*Provider, error) {
	steps, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &Provider{model: model, steps: steps}, nil
}

// Calls returns a copy of every message list the provider has received.
func (p *Provider) Calls() [][]ctxpkg.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]ctxpkg.Message, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *Provider) advance(messages []ctxpkg.Message) step {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, append([]ctxpkg.Message(nil), messages...))
	s := p.steps[p.next]
	if p.next < len(p.steps)-1 {
		p.next++
	}
	return s
}

func (p *Provider) ChatCompletion(ctx context.Context, messages []ctxpkg.Message) (modelpkg.CompletionResponse, error) {
	s := p.advance(messages)
	reply := func(text string) (modelpkg.CompletionResponse, error) {
		return modelpkg.CompletionResponse{Content: text, InputTokens: 1, OutputTokens: 1}, nil
	}

	switch s.kind {
	case stepEmpty:
		return modelpkg.CompletionResponse{InputTokens: 1}, nil
	case stepEcho:
		if len(messages) == 0 {
			return reply("")
		}
		return reply(messages[len(messages)-1].Content)
	case stepMsg, stepMsgB64:
		return reply(s.text)
	case stepErr:
		return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider error class=%s", s.text)
	case stepSleep:
		timer := time.NewTimer(s.wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return modelpkg.CompletionResponse{}, ctx.Err()
		}
		return reply("dummy-after-sleep")
	default:
		return reply("dummy-ok")
	}
}
