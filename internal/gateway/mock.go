package gateway

import (
	"context"
	"fmt"
	"strings"
)

// Mock gateways stand in when no provider is configured. Their output is
// deterministic so local development and tests behave the same everywhere.

type MockTranscriber struct{}

func NewMockTranscriber() *MockTranscriber { return &MockTranscriber{} }

func (t *MockTranscriber) Name() string { return "mock" }

func (t *MockTranscriber) Transcribe(_ context.Context, pcm []byte, _ int) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	return fmt.Sprintf("simulated transcript of %d bytes", len(pcm)), nil
}

type MockSynthesizer struct{}

func NewMockSynthesizer() *MockSynthesizer { return &MockSynthesizer{} }

func (s *MockSynthesizer) Name() string { return "mock" }

// Synthesize returns the text bytes themselves as placeholder audio, the
// same trick the frontend mock player understands.
func (s *MockSynthesizer) Synthesize(_ context.Context, text, _ string, _ float64) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	return []byte(text), nil
}

type MockCompleter struct{}

func NewMockCompleter() *MockCompleter { return &MockCompleter{} }

func (c *MockCompleter) Name() string { return "mock" }

func (c *MockCompleter) Complete(_ context.Context, messages []ChatMessage, contextHint string, _ float64, _ int) (CompletionResult, error) {
	lastUser := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			lastUser = messages[i].Content
			break
		}
	}
	reply := "I heard you."
	if strings.TrimSpace(lastUser) != "" {
		reply = fmt.Sprintf("I heard you say: %s", strings.TrimSpace(lastUser))
	}
	if strings.TrimSpace(contextHint) != "" {
		reply += " We are talking about " + strings.TrimSpace(contextHint) + "."
	}
	return CompletionResult{Text: reply, Provider: c.Name(), TokensUsed: len(strings.Fields(reply))}, nil
}
