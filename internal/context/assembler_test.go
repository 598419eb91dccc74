package context

import (
	"strings"
	"testing"
)

func TestStandardAssembler_Assemble(t *testing.T) {
	a := &StandardAssembler{}
	history := []Message{
		{Role: "user", Content: "prev question"},
		{Role: "assistant", Content: "prev answer"},
	}
	result := a.Assemble("You are a bot.", history, "new question")

	if len(result) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(result))
	}

	if result[0].Role != "system" || result[0].Content != "You are a bot." {
		t.Errorf("unexpected system message: %+v", result[0])
	}
	if result[1].Role != "user" {
		t.Errorf("expected user role, got %q", result[1].Role)
	}
	if result[1].Content != BuildPrompt(history, "new question") {
		t.Errorf("user message does not carry the rendered prompt: %q", result[1].Content)
	}
	if !strings.Contains(result[1].Content, "Assistant: prev answer") {
		t.Errorf("history missing from prompt: %q", result[1].Content)
	}
}

func TestStandardAssembler_EmptyHistory(t *testing.T) {
	a := &StandardAssembler{}
	result := a.Assemble("system", nil, "hello")

	if len(result) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(result))
	}
	if result[0].Role != "system" {
		t.Errorf("expected system role, got %q", result[0].Role)
	}
	if result[1].Role != "user" || !strings.HasSuffix(result[1].Content, "hello") {
		t.Errorf("unexpected user message: %+v", result[1])
	}
}

func TestStandardAssembler_NoSystem(t *testing.T) {
	a := &StandardAssembler{}
	result := a.Assemble("", nil, "hello")
	if len(result) != 1 {
		t.Fatalf("expected 1 message without system prompt, got %d", len(result))
	}
	if result[0].Role != "user" {
		t.Errorf("expected user role, got %q", result[0].Role)
	}
}
