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

// HTTPSynthesizer forwards text to a speech-synthesis HTTP endpoint that
// answers with raw audio bytes (audio/mpeg).
type HTTPSynthesizer struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPSynthesizer(baseURL, apiKey string, timeout time.Duration) *HTTPSynthesizer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSynthesizer{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSynthesizer) Name() string { return "http_tts" }

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fault.InvalidInput("text is required")
	}
	if speed <= 0 {
		speed = 1.0
	}

	payload, err := json.Marshal(map[string]any{
		"input": text,
		"voice": voice,
		"speed": speed,
	})
	if err != nil {
		return nil, fault.Internal(err, "marshal tts request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, fault.Internal(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	res, err := s.client.Do(req)
	if err != nil {
		return nil, fault.Upstream(err, "tts request failed")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fault.Upstream(fmt.Errorf("status %d: %s", res.StatusCode, string(detail)), "tts provider error")
	}

	out, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fault.Upstream(err, "read tts response")
	}
	if len(out) == 0 {
		return nil, fault.Upstream(nil, "tts provider returned empty audio")
	}
	return out, nil
}

// SynthChunk is one streamed piece of a synthesized reply.
type SynthChunk struct {
	Audio []byte
	Text  string
	Err   error
}

// StreamSynthesis splits text into speakable chunks and synthesizes them
// sequentially, yielding each one as it becomes ready. The channel closes
// after the last chunk (or the first error). The stream is finite and not
// restartable; callers stop consuming to abandon it.
func StreamSynthesis(ctx context.Context, syn Synthesizer, text, voice string, speed float64) <-chan SynthChunk {
	out := make(chan SynthChunk, 4)
	go func() {
		defer close(out)
		for _, part := range SplitSpeakable(text, maxSpeakableRunes) {
			audio, err := syn.Synthesize(ctx, part, voice, speed)
			if err != nil {
				select {
				case out <- SynthChunk{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- SynthChunk{Audio: audio, Text: part}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
