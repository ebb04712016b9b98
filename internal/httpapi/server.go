// Package httpapi is the transport layer: chi routes, the JSON envelope and
// the websocket voice channel. Handlers translate between wire shapes and the
// session, endpointing and gateway services.
package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/eleni-ai/shepherd/internal/config"
	"github.com/eleni-ai/shepherd/internal/convo"
	"github.com/eleni-ai/shepherd/internal/endpointing"
	"github.com/eleni-ai/shepherd/internal/gateway"
	"github.com/eleni-ai/shepherd/internal/observability"
	"github.com/eleni-ai/shepherd/internal/protocol"
	"github.com/eleni-ai/shepherd/internal/realtime"
	"github.com/eleni-ai/shepherd/internal/vision"
)

type Server struct {
	cfg           config.Config
	conversations *convo.Service
	buffers       *endpointing.Manager
	stt           gateway.Transcriber
	tts           gateway.Synthesizer
	llm           gateway.Completer
	vision        *vision.Client
	orchestrator  *realtime.Orchestrator
	metrics       *observability.Metrics
	upgrader      websocket.Upgrader
}

func New(
	cfg config.Config,
	conversations *convo.Service,
	buffers *endpointing.Manager,
	stt gateway.Transcriber,
	tts gateway.Synthesizer,
	llm gateway.Completer,
	visionClient *vision.Client,
	orchestrator *realtime.Orchestrator,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		cfg:           cfg,
		conversations: conversations,
		buffers:       buffers,
		stt:           stt,
		tts:           tts,
		llm:           llm,
		vision:        visionClient,
		orchestrator:  orchestrator,
		metrics:       metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Same-origin by default so a third-party page cannot drive
				// the user's mic session when the service leaves localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/audio-processing/chunk", s.handleAudioChunk)
	r.Post("/audio-processing/chunk-file", s.handleAudioChunkFile)
	r.Post("/audio-processing/always-listen", s.handleAlwaysListen)
	r.Post("/audio-processing/tap-to-listen", s.handleTapToListen)

	r.Post("/speech-to-text/transcribe", s.handleTranscribe)
	r.Post("/speech-to-text/voice-activity-detection", s.handleVAD)

	r.Post("/text-to-speech/generate", s.handleSynthesize)
	r.Post("/text-to-speech/generate/json", s.handleSynthesizeJSON)

	r.Post("/llm/generate", s.handleCompletion)

	r.Post("/conversational-ai/sessions", s.handleCreateSession)
	r.Get("/conversational-ai/sessions", s.handleListSessions)
	r.Get("/conversational-ai/sessions/user/{userId}", s.handleListUserSessions)
	r.Get("/conversational-ai/sessions/{id}", s.handleGetSession)
	r.Post("/conversational-ai/sessions/{id}/messages", s.handleSessionMessage)
	r.Post("/conversational-ai/sessions/{id}/context", s.handleSessionContext)
	r.Delete("/conversational-ai/sessions/{id}", s.handleEndSession)
	r.Delete("/conversational-ai/sessions/{id}/history", s.handleClearHistory)
	r.Get("/conversational-ai/ws", s.handleVoiceWS)

	r.Post("/vision/detect", s.handleVisionDetect)
	r.Post("/vision/ocr", s.handleVisionOCR)
	r.Post("/vision/navigate", s.handleVisionNavigate)
	r.Post("/vision/analyze", s.handleVisionAnalyze)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, http.StatusOK, "ok", map[string]any{
		"stt": s.stt.Name(),
		"tts": s.tts.Name(),
		"llm": s.llm.Name(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	// Readiness tracks the session store: a node that cannot reach it must
	// not receive traffic.
	if _, err := s.conversations.ListActive(r.Context()); err != nil {
		respondFault(w, err)
		return
	}
	respondOK(w, http.StatusOK, "ready", nil)
}

// handleVoiceWS upgrades the connection and hands it to the realtime
// orchestrator. The session is created implicitly at connect time and ended
// on disconnect.
func (s *Server) handleVoiceWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))

	sess, err := s.conversations.Create(r.Context(), "", userID)
	if err != nil {
		respondFault(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error; just release the session.
		endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.conversations.End(endCtx, sess.SessionID)
		return
	}
	defer conn.Close()

	s.metrics.ActiveSessions.Inc()
	defer s.metrics.ActiveSessions.Dec()
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		_ = s.orchestrator.RunConnection(ctx, sess.SessionID, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.WSMessages.WithLabelValues("outbound", "write_error").Inc()
					cancel()
					return
				}
				s.metrics.WSMessages.WithLabelValues("outbound", "sent").Inc()
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeError,
				SessionID: sess.SessionID,
				Code:      "invalid_client_message",
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Writes stay single-threaded; drop when the queue is full.
				s.metrics.WSMessages.WithLabelValues("outbound", "drop_full").Inc()
			}
			continue
		}

		s.metrics.WSMessages.WithLabelValues("inbound", "received").Inc()
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}
