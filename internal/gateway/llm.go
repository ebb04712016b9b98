package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eleni-ai/shepherd/internal/fault"
)

const systemPromptBase = "You are Eleni, a patient voice companion for a visually impaired user. " +
	"Answer in short spoken-style sentences suitable for text-to-speech. " +
	"Never use markdown, lists, or emoji."

// BuildSystemPrompt combines the base persona with the caller-supplied
// session context, when present.
func BuildSystemPrompt(contextHint string) string {
	contextHint = strings.TrimSpace(contextHint)
	if contextHint == "" {
		return systemPromptBase
	}
	return systemPromptBase + "\nSession context: " + contextHint
}

// HTTPCompleter forwards chat requests to an OpenAI-compatible completion
// endpoint.
type HTTPCompleter struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewHTTPCompleter(baseURL, apiKey, model string, timeout time.Duration) *HTTPCompleter {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPCompleter{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPCompleter) Name() string { return "http_llm" }

func (c *HTTPCompleter) Complete(ctx context.Context, messages []ChatMessage, contextHint string, temperature float64, maxTokens int) (CompletionResult, error) {
	if len(messages) == 0 {
		return CompletionResult{}, fault.InvalidInput("messages are required")
	}
	if temperature <= 0 {
		temperature = 0.7
	}
	if maxTokens <= 0 {
		maxTokens = 300
	}

	wire := make([]ChatMessage, 0, len(messages)+1)
	wire = append(wire, ChatMessage{Role: "system", Content: BuildSystemPrompt(contextHint)})
	wire = append(wire, messages...)

	payload, err := json.Marshal(map[string]any{
		"model":       c.model,
		"messages":    wire,
		"temperature": temperature,
		"max_tokens":  maxTokens,
	})
	if err != nil {
		return CompletionResult{}, fault.Internal(err, "marshal completion request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return CompletionResult{}, fault.Internal(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return CompletionResult{}, fault.Upstream(err, "llm request failed")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return CompletionResult{}, fault.Upstream(fmt.Errorf("status %d: %s", res.StatusCode, string(detail)), "llm provider error")
	}

	var parsed struct {
		Choices []struct {
			Message ChatMessage `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return CompletionResult{}, fault.Upstream(err, "decode llm response")
	}
	if len(parsed.Choices) == 0 {
		return CompletionResult{}, fault.Upstream(nil, "llm provider returned no choices")
	}

	return CompletionResult{
		Text:       strings.TrimSpace(parsed.Choices[0].Message.Content),
		Provider:   c.Name(),
		TokensUsed: parsed.Usage.TotalTokens,
	}, nil
}
