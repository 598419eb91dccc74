// Package openai talks to any OpenAI-compatible chat completions endpoint,
// including Ollama's /v1 compatibility layer.
package openai

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

const defaultTemperature = 0.2

type Client struct {
	apiKey      string
	url         string
	model       string
	temperature float32
	httpClient  *http.Client
}

// NewClient creates a client for url. apiKey may be empty for local servers.
func NewClient(apiKey, url, model string, timeout time.Duration) *Client {
	return &Client{
		apiKey:      apiKey,
		url:         url,
		model:       model,
		temperature: defaultTemperature,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx reply from the endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai status=%d: %s", e.StatusCode, e.Message)
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// errorEnvelope covers both {"error":{"message":...}} and {"error":"..."}.
type errorEnvelope struct {
	Error json.RawMessage `json:"error"`
}

// ChatCompletion sends one non-streaming request. Missing choices yield an
// empty Content rather than an error.
func (c *Client) ChatCompletion(ctx context.Context, messages []ctxpkg.Message) (modelpkg.CompletionResponse, error) {
	wire := make([]wireMessage, len(messages))
	for i, m := range messages {
		wire[i] = wireMessage{Role: m.Role, Content: m.Content}
	}
	body, err := c.post(ctx, chatRequest{
		Model:       c.model,
		Messages:    wire,
		Temperature: c.temperature,
	})
	if err != nil {
		return modelpkg.CompletionResponse{}, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return modelpkg.CompletionResponse{}, fmt.Errorf("failed to parse openai response: %s", truncate(string(body), 400))
	}

	var out modelpkg.CompletionResponse
	if parsed.Usage != nil {
		out.InputTokens = parsed.Usage.PromptTokens
		out.OutputTokens = parsed.Usage.CompletionTokens
	}
	if len(parsed.Choices) > 0 {
		out.Content = strings.TrimSpace(parsed.Choices[0].Message.Content)
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, payload chatRequest) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal openai request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed reading openai response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

// errorMessage extracts a readable message from an error body.
func errorMessage(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Error) > 0 {
		var detail struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(env.Error, &detail) == nil && detail.Message != "" {
			return detail.Message
		}
		var s string
		if json.Unmarshal(env.Error, &s) == nil && s != "" {
			return s
		}
	}
	return truncate(strings.TrimSpace(string(body)), 400)
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
