// Package gemini adapts the Google GenAI SDK to the model.Provider interface.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	ctxpkg "github.com/stupiduntilnot/xj10/internal/context"
	modelpkg "github.com/stupiduntilnot/xj10/internal/model"
)

// generator is the slice of *genai.Models the provider depends on.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client sends chat turns to a Gemini model.
type Client struct {
	model  string
	models generator
}

// NewClient creates a Gemini client for the Gemini API backend.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Client{model: model, models: client.Models}, nil
}

// ChatCompletion maps system messages to the system instruction and the
// remaining messages to user/model contents.
func (c *Client) ChatCompletion(ctx context.Context, messages []ctxpkg.Message) (modelpkg.CompletionResponse, error) {
	contents, config := toContents(messages)
	if len(contents) == 0 {
		return modelpkg.CompletionResponse{}, fmt.Errorf("gemini request has no user content")
	}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return modelpkg.CompletionResponse{}, fmt.Errorf("gemini generate failed: %w", err)
	}

	result := modelpkg.CompletionResponse{Content: strings.TrimSpace(responseText(resp))}
	if resp != nil && resp.UsageMetadata != nil {
		result.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return result, nil
}

func toContents(messages []ctxpkg.Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case ctxpkg.RoleSystem:
			system = append(system, m.Content)
		case ctxpkg.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	config := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	return contents, config
}

// responseText concatenates the non-thought text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}
