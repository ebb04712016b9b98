package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eleni-ai/shepherd/internal/config"
	"github.com/eleni-ai/shepherd/internal/convo"
	"github.com/eleni-ai/shepherd/internal/endpointing"
	"github.com/eleni-ai/shepherd/internal/gateway"
	"github.com/eleni-ai/shepherd/internal/observability"
	"github.com/eleni-ai/shepherd/internal/realtime"
	"github.com/eleni-ai/shepherd/internal/vision"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Config{
		MetricsNamespace:  "test",
		AllowAnyOrigin:    true,
		SilenceThreshold:  1500 * time.Millisecond,
		MinUtteranceBytes: 8000,
		VADEnergy:         500,
		TapToListenWindow: 10 * time.Second,
		TTSVoice:          "alloy",
	}
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", time.Now().UnixNano()))

	stt := gateway.NewMockTranscriber()
	tts := gateway.NewMockSynthesizer()
	llm := gateway.NewMockCompleter()

	conversations := convo.NewService(convo.NewMemoryStore(), llm, metrics)
	buffers := endpointing.NewManager(endpointing.Config{
		SilenceThreshold:  cfg.SilenceThreshold,
		MinUtteranceBytes: cfg.MinUtteranceBytes,
		VADEnergy:         cfg.VADEnergy,
		TapWindow:         cfg.TapToListenWindow,
	}, stt, metrics)
	orchestrator := realtime.NewOrchestrator(conversations, buffers, tts, metrics, cfg.TTSVoice)
	visionClient := vision.NewClient("http://localhost:1", time.Second)

	return New(cfg, conversations, buffers, stt, tts, llm, visionClient, orchestrator, metrics)
}

func decodeEnvelope(t *testing.T, res *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(res.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %q)", err, res.Body.String())
	}
	return env
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestSessionCRUD(t *testing.T) {
	router := newTestServer(t).Router()

	res := postJSON(t, router, "/conversational-ai/sessions", map[string]string{"userId": "u1"})
	if res.Code != http.StatusCreated {
		t.Fatalf("create status = %d (%s)", res.Code, res.Body.String())
	}
	env := decodeEnvelope(t, res)
	if !env.Success || env.Status != http.StatusCreated {
		t.Fatalf("envelope = %+v", env)
	}
	data, _ := env.Data.(map[string]any)
	sessionID, _ := data["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("no session id in %+v", env.Data)
	}

	req := httptest.NewRequest(http.MethodGet, "/conversational-ai/sessions/"+sessionID, nil)
	get := httptest.NewRecorder()
	router.ServeHTTP(get, req)
	if get.Code != http.StatusOK {
		t.Fatalf("get status = %d", get.Code)
	}

	del := httptest.NewRecorder()
	router.ServeHTTP(del, httptest.NewRequest(http.MethodDelete, "/conversational-ai/sessions/"+sessionID, nil))
	if del.Code != http.StatusOK {
		t.Fatalf("delete status = %d", del.Code)
	}

	// Ending again stays OK, fetching is now a 404.
	again := httptest.NewRecorder()
	router.ServeHTTP(again, httptest.NewRequest(http.MethodDelete, "/conversational-ai/sessions/"+sessionID, nil))
	if again.Code != http.StatusOK {
		t.Fatalf("second delete status = %d", again.Code)
	}
	gone := httptest.NewRecorder()
	router.ServeHTTP(gone, httptest.NewRequest(http.MethodGet, "/conversational-ai/sessions/"+sessionID, nil))
	if gone.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", gone.Code)
	}
	if env := decodeEnvelope(t, gone); env.Success {
		t.Fatalf("404 envelope claims success")
	}
}

func TestCreateSessionConflict(t *testing.T) {
	router := newTestServer(t).Router()

	first := postJSON(t, router, "/conversational-ai/sessions", map[string]string{"sessionId": "fixed"})
	if first.Code != http.StatusCreated {
		t.Fatalf("create status = %d", first.Code)
	}
	second := postJSON(t, router, "/conversational-ai/sessions", map[string]string{"sessionId": "fixed"})
	if second.Code != http.StatusConflict {
		t.Fatalf("duplicate create status = %d", second.Code)
	}
}

func TestCreateSessionWithoutBody(t *testing.T) {
	router := newTestServer(t).Router()

	// No body at all and an empty JSON body both create an anonymous session.
	for _, body := range []*bytes.Reader{nil, bytes.NewReader(nil)} {
		var req *http.Request
		if body == nil {
			req = httptest.NewRequest(http.MethodPost, "/conversational-ai/sessions", nil)
		} else {
			req = httptest.NewRequest(http.MethodPost, "/conversational-ai/sessions", body)
			req.Header.Set("Content-Type", "application/json")
		}
		res := httptest.NewRecorder()
		router.ServeHTTP(res, req)
		if res.Code != http.StatusCreated {
			t.Fatalf("create without body status = %d (%s)", res.Code, res.Body.String())
		}
	}
}

func TestSessionMessageFlow(t *testing.T) {
	router := newTestServer(t).Router()

	res := postJSON(t, router, "/conversational-ai/sessions", map[string]string{"sessionId": "s1"})
	if res.Code != http.StatusCreated {
		t.Fatalf("create status = %d", res.Code)
	}

	ctxRes := postJSON(t, router, "/conversational-ai/sessions/s1/context", map[string]string{"context": "geography quiz"})
	if ctxRes.Code != http.StatusOK {
		t.Fatalf("context status = %d", ctxRes.Code)
	}

	msgRes := postJSON(t, router, "/conversational-ai/sessions/s1/messages", map[string]string{"userMessage": "What is the capital of France?"})
	if msgRes.Code != http.StatusOK {
		t.Fatalf("message status = %d (%s)", msgRes.Code, msgRes.Body.String())
	}
	env := decodeEnvelope(t, msgRes)
	data, _ := env.Data.(map[string]any)
	reply, _ := data["response"].(string)
	if reply == "" {
		t.Fatalf("empty reply: %+v", env.Data)
	}
	if !strings.Contains(reply, "geography quiz") {
		t.Fatalf("context hint not reflected in mock reply: %q", reply)
	}

	hist := httptest.NewRecorder()
	router.ServeHTTP(hist, httptest.NewRequest(http.MethodDelete, "/conversational-ai/sessions/s1/history", nil))
	if hist.Code != http.StatusOK {
		t.Fatalf("clear history status = %d", hist.Code)
	}
}

func TestSessionMessageUnknownSession(t *testing.T) {
	router := newTestServer(t).Router()
	res := postJSON(t, router, "/conversational-ai/sessions/ghost/messages", map[string]string{"userMessage": "hello"})
	if res.Code != http.StatusNotFound {
		t.Fatalf("status = %d", res.Code)
	}
}

func TestListSessions(t *testing.T) {
	router := newTestServer(t).Router()

	for _, id := range []string{"a", "b"} {
		res := postJSON(t, router, "/conversational-ai/sessions", map[string]string{"sessionId": id, "userId": "alice"})
		if res.Code != http.StatusCreated {
			t.Fatalf("create %s status = %d", id, res.Code)
		}
	}

	list := httptest.NewRecorder()
	router.ServeHTTP(list, httptest.NewRequest(http.MethodGet, "/conversational-ai/sessions", nil))
	if list.Code != http.StatusOK {
		t.Fatalf("list status = %d", list.Code)
	}
	env := decodeEnvelope(t, list)
	data, _ := env.Data.(map[string]any)
	if count, _ := data["count"].(float64); count != 2 {
		t.Fatalf("count = %v", data["count"])
	}

	byUser := httptest.NewRecorder()
	router.ServeHTTP(byUser, httptest.NewRequest(http.MethodGet, "/conversational-ai/sessions/user/alice", nil))
	if byUser.Code != http.StatusOK {
		t.Fatalf("by-user status = %d", byUser.Code)
	}
	env = decodeEnvelope(t, byUser)
	data, _ = env.Data.(map[string]any)
	if count, _ := data["count"].(float64); count != 2 {
		t.Fatalf("user count = %v", data["count"])
	}
}

func TestAudioChunkEndpoint(t *testing.T) {
	router := newTestServer(t).Router()

	loud := make([]byte, 4000)
	for i := 0; i+1 < len(loud); i += 2 {
		binary.LittleEndian.PutUint16(loud[i:i+2], uint16(4000))
	}
	res := postJSON(t, router, "/audio-processing/chunk", map[string]any{
		"sessionId":  "s1",
		"audio":      base64.StdEncoding.EncodeToString(loud),
		"sampleRate": 16000,
	})
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", res.Code, res.Body.String())
	}
	env := decodeEnvelope(t, res)
	data, _ := env.Data.(map[string]any)
	if final, _ := data["isFinal"].(bool); final {
		t.Fatalf("single mid-utterance chunk reported final")
	}

	bad := postJSON(t, router, "/audio-processing/chunk", map[string]any{
		"sessionId": "s1",
		"audio":     "not base64!!",
	})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("bad audio status = %d", bad.Code)
	}
}

func TestListenModeEndpoints(t *testing.T) {
	router := newTestServer(t).Router()

	res := postJSON(t, router, "/audio-processing/always-listen", map[string]any{"sessionId": "s1", "enabled": true})
	if res.Code != http.StatusOK {
		t.Fatalf("always-listen status = %d", res.Code)
	}
	res = postJSON(t, router, "/audio-processing/tap-to-listen", map[string]any{"sessionId": "s1", "durationMs": 5000})
	if res.Code != http.StatusOK {
		t.Fatalf("tap-to-listen status = %d", res.Code)
	}
	res = postJSON(t, router, "/audio-processing/always-listen", map[string]any{"enabled": true})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("missing sessionId status = %d", res.Code)
	}
}

func multipartAudio(t *testing.T, field string, payload []byte, extra map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, "clip.raw")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for k, v := range extra {
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &body, mw.FormDataContentType()
}

func TestVADEndpoint(t *testing.T) {
	router := newTestServer(t).Router()

	loud := make([]byte, 800)
	for i := 0; i+1 < len(loud); i += 2 {
		binary.LittleEndian.PutUint16(loud[i:i+2], uint16(20000))
	}
	body, contentType := multipartAudio(t, "audio", loud, nil)
	req := httptest.NewRequest(http.MethodPost, "/speech-to-text/voice-activity-detection", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", res.Code, res.Body.String())
	}
	env := decodeEnvelope(t, res)
	data, _ := env.Data.(map[string]any)
	if detected, _ := data["voiceDetected"].(bool); !detected {
		t.Fatalf("loud clip not detected: %+v", env.Data)
	}
	if length, _ := data["audioLength"].(float64); int(length) != len(loud) {
		t.Fatalf("audioLength = %v", data["audioLength"])
	}
}

func TestTranscribeEndpoint(t *testing.T) {
	router := newTestServer(t).Router()

	body, contentType := multipartAudio(t, "audio", make([]byte, 3200), map[string]string{"sampleRate": "16000"})
	req := httptest.NewRequest(http.MethodPost, "/speech-to-text/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", res.Code, res.Body.String())
	}
	env := decodeEnvelope(t, res)
	data, _ := env.Data.(map[string]any)
	if text, _ := data["text"].(string); text == "" {
		t.Fatalf("empty transcript: %+v", env.Data)
	}
}

func TestSynthesizeEndpoints(t *testing.T) {
	router := newTestServer(t).Router()

	res := postJSON(t, router, "/text-to-speech/generate", map[string]any{"text": "Hello there."})
	if res.Code != http.StatusOK {
		t.Fatalf("binary status = %d", res.Code)
	}
	if got := res.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Fatalf("content type = %q", got)
	}
	if res.Body.Len() == 0 {
		t.Fatalf("empty audio body")
	}

	jsonRes := postJSON(t, router, "/text-to-speech/generate/json", map[string]any{"text": "Hello there."})
	if jsonRes.Code != http.StatusOK {
		t.Fatalf("json status = %d", jsonRes.Code)
	}
	env := decodeEnvelope(t, jsonRes)
	data, _ := env.Data.(map[string]any)
	audioB64, _ := data["audio"].(string)
	raw, err := base64.StdEncoding.DecodeString(audioB64)
	if err != nil || len(raw) == 0 {
		t.Fatalf("audio field not base64: %v", err)
	}

	missing := postJSON(t, router, "/text-to-speech/generate", map[string]any{"text": "   "})
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("blank text status = %d", missing.Code)
	}
}

func TestCompletionEndpoint(t *testing.T) {
	router := newTestServer(t).Router()

	res := postJSON(t, router, "/llm/generate", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "Tell me a joke."}},
	})
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", res.Code, res.Body.String())
	}
	env := decodeEnvelope(t, res)
	data, _ := env.Data.(map[string]any)
	if reply, _ := data["response"].(string); reply == "" {
		t.Fatalf("empty response: %+v", env.Data)
	}

	empty := postJSON(t, router, "/llm/generate", map[string]any{"messages": []map[string]string{}})
	if empty.Code != http.StatusBadRequest {
		t.Fatalf("empty messages status = %d", empty.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestServer(t).Router()

	for _, path := range []string{"/healthz", "/readyz"} {
		res := httptest.NewRecorder()
		router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, path, nil))
		if res.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, res.Code)
		}
	}
}

func TestVoiceWebSocketTextTurn(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/conversational-ai/ws?userId=u1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var connected struct {
		Type      string `json:"type"`
		SessionID string `json:"sessionId"`
	}
	if err := conn.ReadJSON(&connected); err != nil {
		t.Fatalf("read connected: %v", err)
	}
	if connected.Type != "connected" || connected.SessionID == "" {
		t.Fatalf("handshake = %+v", connected)
	}

	if err := conn.WriteJSON(map[string]string{"type": "text-message", "text": "Hello."}); err != nil {
		t.Fatalf("write: %v", err)
	}

	sawResponse := false
	sawAudio := false
	for {
		var evt map[string]any
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("read event: %v", err)
		}
		switch evt["type"] {
		case "ai-response":
			if text, _ := evt["text"].(string); text == "" {
				t.Fatalf("empty ai-response")
			}
			sawResponse = true
		case "audio-chunk":
			sawAudio = true
		case "error":
			t.Fatalf("error event: %+v", evt)
		case "response-complete":
			if !sawResponse || !sawAudio {
				t.Fatalf("turn incomplete: response=%v audio=%v", sawResponse, sawAudio)
			}
			return
		}
	}
}
