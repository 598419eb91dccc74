// Package ollama is a chat client for a local Ollama server's native API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ctxpkg "github.com/stupiduntilnot/xj10/internal/context"
	modelpkg "github.com/stupiduntilnot/xj10/internal/model"
)

// DefaultBaseURL is where a stock Ollama install listens.
const DefaultBaseURL = "http://localhost:11434"

// Client calls POST {base}/api/chat with streaming disabled.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates an Ollama chat client.
func NewClient(baseURL, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
	Error           string      `json:"error"`
}

// ChatCompletion sends the messages as a single non-streaming chat request.
func (c *Client) ChatCompletion(ctx context.Context, messages []ctxpkg.Message) (modelpkg.CompletionResponse, error) {
	reqBody := chatRequest{
		Model:    c.model,
		Messages: make([]chatMessage, 0, len(messages)),
		Stream:   false,
	}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return modelpkg.CompletionResponse{}, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return modelpkg.CompletionResponse{}, fmt.Errorf("failed to create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return modelpkg.CompletionResponse{}, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return modelpkg.CompletionResponse{}, fmt.Errorf("failed reading ollama response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return modelpkg.CompletionResponse{}, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, truncate(string(body), 400))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return modelpkg.CompletionResponse{}, fmt.Errorf("failed to parse ollama response: %s", truncate(string(body), 400))
	}
	if parsed.Error != "" {
		return modelpkg.CompletionResponse{}, fmt.Errorf("ollama error: %s", parsed.Error)
	}

	return modelpkg.CompletionResponse{
		Content:      strings.TrimSpace(parsed.Message.Content),
		InputTokens:  parsed.PromptEvalCount,
		OutputTokens: parsed.EvalCount,
	}, nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
