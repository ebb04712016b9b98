package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/eleni-ai/shepherd/internal/convo"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
		UserID    string `json:"userId"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondInvalid(w, "invalid request body")
		return
	}

	sess, err := s.conversations.Create(r.Context(), req.SessionID, req.UserID)
	if err != nil {
		if errors.Is(err, convo.ErrAlreadyExists) {
			respondJSON(w, http.StatusConflict, envelope{
				Success: false,
				Message: "session already exists",
				Status:  http.StatusConflict,
			})
			return
		}
		respondFault(w, err)
		return
	}
	respondOK(w, http.StatusCreated, "session created", sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	sess, err := s.conversations.Get(r.Context(), id)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondOK(w, http.StatusOK, "session", sess)
}

func (s *Server) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		UserMessage string `json:"userMessage"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondInvalid(w, "invalid request body")
		return
	}

	reply, err := s.conversations.ProcessMessage(r.Context(), id, req.UserMessage)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondOK(w, http.StatusOK, "message processed", map[string]any{
		"response":  reply,
		"sessionId": id,
	})
}

func (s *Server) handleSessionContext(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Context string `json:"context"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondInvalid(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Context) == "" {
		respondInvalid(w, "context is required")
		return
	}

	if err := s.conversations.AddContext(r.Context(), id, req.Context); err != nil {
		respondFault(w, err)
		return
	}
	respondOK(w, http.StatusOK, "context updated", map[string]any{"sessionId": id})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	if err := s.conversations.End(r.Context(), id); err != nil {
		respondFault(w, err)
		return
	}
	s.buffers.Cleanup(id)
	respondOK(w, http.StatusOK, "session ended", map[string]any{"sessionId": id})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	if err := s.conversations.ClearHistory(r.Context(), id); err != nil {
		respondFault(w, err)
		return
	}
	respondOK(w, http.StatusOK, "history cleared", map[string]any{"sessionId": id})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.conversations.ListActive(r.Context())
	if err != nil {
		respondFault(w, err)
		return
	}
	respondOK(w, http.StatusOK, "active sessions", map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleListUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userId"))
	if userID == "" {
		respondInvalid(w, "userId is required")
		return
	}
	sessions, err := s.conversations.ListByUser(r.Context(), userID)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondOK(w, http.StatusOK, "user sessions", map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func sessionIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondInvalid(w, "session id is required")
		return "", false
	}
	return id, true
}
