// Package gateway wraps the external AI providers (speech-to-text,
// text-to-speech, LLM completion) behind small interfaces. Each gateway has
// an HTTP implementation used when a provider is configured and a
// deterministic mock used otherwise, so the rest of the service never
// branches on which concrete provider is active.
package gateway

import "context"

// Transcriber converts a complete utterance of PCM16LE audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
	Name() string
}

// Synthesizer renders text as audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error)
	Name() string
}

// ChatMessage is one turn of a completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResult carries the assistant reply plus provider accounting.
type CompletionResult struct {
	Text       string
	Provider   string
	TokensUsed int
}

// Completer runs a chat completion against the language model provider.
type Completer interface {
	Complete(ctx context.Context, messages []ChatMessage, contextHint string, temperature float64, maxTokens int) (CompletionResult, error)
	Name() string
}
