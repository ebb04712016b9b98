package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/eleni-ai/shepherd/internal/audio"
	"github.com/eleni-ai/shepherd/internal/fault"
)

// HTTPTranscriber forwards utterances to a speech-recognition HTTP endpoint
// that accepts a multipart WAV upload and answers {"text": "..."}.
type HTTPTranscriber struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPTranscriber(baseURL, apiKey string, timeout time.Duration) *HTTPTranscriber {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTranscriber{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTranscriber) Name() string { return "http_stt" }

func (t *HTTPTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", fault.InvalidInput("empty audio buffer")
	}

	wav, err := audio.EncodeWAVPCM16LE(pcm, sampleRate)
	if err != nil {
		return "", fault.Internal(err, "encode wav")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fault.Internal(err, "build multipart")
	}
	if _, err := part.Write(wav); err != nil {
		return "", fault.Internal(err, "build multipart")
	}
	if err := mw.Close(); err != nil {
		return "", fault.Internal(err, "build multipart")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/transcribe", &body)
	if err != nil {
		return "", fault.Internal(err, "create request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	res, err := t.client.Do(req)
	if err != nil {
		return "", fault.Upstream(err, "stt request failed")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fault.Upstream(fmt.Errorf("status %d: %s", res.StatusCode, string(detail)), "stt provider error")
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fault.Upstream(err, "decode stt response")
	}
	return strings.TrimSpace(parsed.Text), nil
}
