package model

import (
	"context"

	ctxpkg "github.com/stupiduntilnot/xj10/internal/context"
)

// CompletionResponse is the common response model for model providers.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Provider is the model provider abstraction used by the agent.
type Provider interface {
	ChatCompletion(ctx context.Context, messages []ctxpkg.Message) (CompletionResponse, error)
}
