package httpapi

import (
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eleni-ai/shepherd/internal/audio"
	"github.com/eleni-ai/shepherd/internal/gateway"
)

const (
	maxUploadBytes    = 10 << 20
	defaultSampleRate = 16000
)

type audioChunkRequest struct {
	SessionID   string `json:"sessionId"`
	AudioBase64 string `json:"audio"`
	SampleRate  int    `json:"sampleRate"`
}

type audioChunkResponse struct {
	Transcript string `json:"transcript,omitempty"`
	IsFinal    bool   `json:"isFinal"`
}

func (s *Server) handleAudioChunk(w http.ResponseWriter, r *http.Request) {
	var req audioChunkRequest
	if err := decodeJSON(r, &req); err != nil {
		respondInvalid(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondInvalid(w, "sessionId is required")
		return
	}
	if req.AudioBase64 == "" {
		respondInvalid(w, "audio is required")
		return
	}
	if req.SampleRate <= 0 {
		req.SampleRate = defaultSampleRate
	}

	pcm, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		respondInvalid(w, "audio must be valid base64")
		return
	}

	result, err := s.buffers.SubmitChunk(r.Context(), req.SessionID, pcm, req.SampleRate)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondOK(w, http.StatusOK, "chunk accepted", audioChunkResponse{
		Transcript: result.Transcript,
		IsFinal:    result.Final,
	})
}

func (s *Server) handleAudioChunkFile(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.FormValue("sessionId"))
	if sessionID == "" {
		respondInvalid(w, "sessionId is required")
		return
	}
	pcm, sampleRate, ok := s.readAudioUpload(w, r)
	if !ok {
		return
	}

	result, err := s.buffers.SubmitChunk(r.Context(), sessionID, pcm, sampleRate)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondOK(w, http.StatusOK, "chunk accepted", audioChunkResponse{
		Transcript: result.Transcript,
		IsFinal:    result.Final,
	})
}

func (s *Server) handleAlwaysListen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
		Enabled   bool   `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondInvalid(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondInvalid(w, "sessionId is required")
		return
	}
	s.buffers.SetAlwaysListening(req.SessionID, req.Enabled)
	respondOK(w, http.StatusOK, "always-listen updated", map[string]any{
		"sessionId": req.SessionID,
		"enabled":   req.Enabled,
	})
}

func (s *Server) handleTapToListen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID  string `json:"sessionId"`
		DurationMS int    `json:"durationMs"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondInvalid(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondInvalid(w, "sessionId is required")
		return
	}
	s.buffers.TapToListen(req.SessionID, millis(req.DurationMS))
	respondOK(w, http.StatusOK, "tap-to-listen activated", map[string]any{
		"sessionId": req.SessionID,
	})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	pcm, sampleRate, ok := s.readAudioUpload(w, r)
	if !ok {
		return
	}
	text, err := s.stt.Transcribe(r.Context(), pcm, sampleRate)
	if err != nil {
		s.metrics.GatewayErrors.WithLabelValues("stt", "transcribe").Inc()
		respondFault(w, err)
		return
	}
	respondOK(w, http.StatusOK, "transcribed", map[string]any{
		"text":     text,
		"isFinal":  true,
		"provider": s.stt.Name(),
	})
}

func (s *Server) handleVAD(w http.ResponseWriter, r *http.Request) {
	pcm, _, ok := s.readAudioUpload(w, r)
	if !ok {
		return
	}
	threshold := s.cfg.VADEnergy
	if v := strings.TrimSpace(r.FormValue("threshold")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			respondInvalid(w, "threshold must be a positive number")
			return
		}
		threshold = f
	}
	respondOK(w, http.StatusOK, "analyzed", map[string]any{
		"voiceDetected": gateway.DetectVoiceActivity(pcm, threshold),
		"audioLength":   len(pcm),
	})
}

// readAudioUpload pulls the multipart "audio" part and normalizes it to raw
// PCM16LE. WAV uploads are unwrapped; anything else is treated as raw PCM at
// the sampleRate form value (or the 16 kHz default). On failure it writes the
// error response and returns ok=false.
func (s *Server) readAudioUpload(w http.ResponseWriter, r *http.Request) (pcm []byte, sampleRate int, ok bool) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondInvalid(w, "expected multipart form with an audio file")
		return nil, 0, false
	}
	file, _, err := r.FormFile("audio")
	if err != nil {
		respondInvalid(w, "audio file is required")
		return nil, 0, false
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		respondInvalid(w, "failed to read audio file")
		return nil, 0, false
	}
	if len(raw) == 0 {
		respondInvalid(w, "audio file is empty")
		return nil, 0, false
	}

	if audio.IsWAV(raw) {
		pcm, sampleRate, err = audio.DecodeWAVPCM16LE(raw)
		if err != nil {
			respondInvalid(w, "unsupported WAV file: "+err.Error())
			return nil, 0, false
		}
		return pcm, sampleRate, true
	}

	sampleRate = defaultSampleRate
	if v := strings.TrimSpace(r.FormValue("sampleRate")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondInvalid(w, "sampleRate must be a positive integer")
			return nil, 0, false
		}
		sampleRate = n
	}
	return raw, sampleRate, true
}

func millis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
