package httpapi

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/eleni-ai/shepherd/internal/gateway"
)

type synthesizeRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

func (s *Server) parseSynthesizeRequest(w http.ResponseWriter, r *http.Request) (synthesizeRequest, bool) {
	var req synthesizeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondInvalid(w, "invalid request body")
		return req, false
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		respondInvalid(w, "text is required")
		return req, false
	}
	if strings.TrimSpace(req.Voice) == "" {
		req.Voice = s.cfg.TTSVoice
	}
	if req.Speed <= 0 {
		req.Speed = 1.0
	}
	return req, true
}

// handleSynthesize streams the synthesized reply as raw audio bytes. Errors
// before the first byte still use the JSON envelope.
func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseSynthesizeRequest(w, r)
	if !ok {
		return
	}
	out, err := s.tts.Synthesize(r.Context(), req.Text, req.Voice, req.Speed)
	if err != nil {
		s.metrics.GatewayErrors.WithLabelValues("tts", "synthesize").Inc()
		respondFault(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) handleSynthesizeJSON(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseSynthesizeRequest(w, r)
	if !ok {
		return
	}
	out, err := s.tts.Synthesize(r.Context(), req.Text, req.Voice, req.Speed)
	if err != nil {
		s.metrics.GatewayErrors.WithLabelValues("tts", "synthesize").Inc()
		respondFault(w, err)
		return
	}
	respondOK(w, http.StatusOK, "synthesized", map[string]any{
		"audio":    base64.StdEncoding.EncodeToString(out),
		"provider": s.tts.Name(),
		"duration": estimateSpeechSeconds(req.Text, req.Speed),
	})
}

// estimateSpeechSeconds approximates playback length from word count. The
// synthesis providers do not report duration, and clients only use this for
// progress hints.
func estimateSpeechSeconds(text string, speed float64) float64 {
	const wordsPerSecond = 2.5
	if speed <= 0 {
		speed = 1.0
	}
	words := len(strings.Fields(text))
	return float64(words) / (wordsPerSecond * speed)
}

type completionRequest struct {
	Messages    []gateway.ChatMessage `json:"messages"`
	Context     string                `json:"context"`
	Temperature float64               `json:"temperature"`
	MaxTokens   int                   `json:"maxTokens"`
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondInvalid(w, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		respondInvalid(w, "messages is required")
		return
	}
	for _, m := range req.Messages {
		if strings.TrimSpace(m.Role) == "" || strings.TrimSpace(m.Content) == "" {
			respondInvalid(w, "every message needs a role and content")
			return
		}
	}

	result, err := s.llm.Complete(r.Context(), req.Messages, req.Context, req.Temperature, req.MaxTokens)
	if err != nil {
		s.metrics.GatewayErrors.WithLabelValues("llm", "generate").Inc()
		respondFault(w, err)
		return
	}
	respondOK(w, http.StatusOK, "generated", map[string]any{
		"response":   result.Text,
		"provider":   result.Provider,
		"tokensUsed": result.TokensUsed,
	})
}
