package convo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eleni-ai/shepherd/internal/fault"
	"github.com/eleni-ai/shepherd/internal/gateway"
	"github.com/eleni-ai/shepherd/internal/observability"
)

// Service implements the conversation operations on top of the shared
// store and the completion gateway.
type Service struct {
	store     Store
	completer gateway.Completer
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewService(store Store, completer gateway.Completer, metrics *observability.Metrics) *Service {
	return &Service{
		store:     store,
		completer: completer,
		metrics:   metrics,
		now:       time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Create starts a new session. When sessionID is empty a fresh id is
// generated; a caller-supplied id that is already taken fails with
// ErrAlreadyExists.
func (s *Service) Create(ctx context.Context, sessionID, userID string) (*Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = uuid.NewString()
	}
	now := s.now().UTC()
	sess := &Session{
		SessionID:      sessionID,
		UserID:         strings.TrimSpace(userID),
		Messages:       []Message{},
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
	}
	return sess, nil
}

func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	return s.store.Get(ctx, sessionID)
}

// AddContext replaces (never merges) the session's free-text context.
func (s *Service) AddContext(ctx context.Context, sessionID, contextText string) error {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Context = contextText
	sess.LastActivityAt = s.now().UTC()
	return s.store.Put(ctx, sess)
}

// ProcessMessage runs one user turn: append the user message, ask the
// completion gateway, append the reply, trim history and persist. This is
// the critical path with the longest upstream latency; it holds no locks,
// so turns for other sessions proceed concurrently.
func (s *Service) ProcessMessage(ctx context.Context, sessionID, userText string) (string, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return "", fault.InvalidInput("userMessage is required")
	}

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}

	sess.appendMessage(RoleUser, userText)
	sess.Interrupted = false

	chat := make([]gateway.ChatMessage, 0, len(sess.Messages))
	for _, msg := range sess.Messages {
		chat = append(chat, gateway.ChatMessage{Role: msg.Role, Content: msg.Content})
	}

	start := s.now()
	result, err := s.completer.Complete(ctx, chat, sess.Context, 0, 0)
	if s.metrics != nil {
		s.metrics.ObserveGatewayLatency("llm", s.now().Sub(start))
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.GatewayErrors.WithLabelValues("llm", "complete").Inc()
		}
		return "", fmt.Errorf("completion for session %s: %w", sessionID, err)
	}

	sess.appendMessage(RoleAssistant, result.Text)
	sess.LastActivityAt = s.now().UTC()
	if err := s.store.Put(ctx, sess); err != nil {
		return "", err
	}
	return result.Text, nil
}

func (s *Service) SetInterrupted(ctx context.Context, sessionID string, flag bool) error {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Interrupted = flag
	sess.LastActivityAt = s.now().UTC()
	return s.store.Put(ctx, sess)
}

// ClearHistory empties the message list but keeps the context.
func (s *Service) ClearHistory(ctx context.Context, sessionID string) error {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Messages = []Message{}
	sess.LastActivityAt = s.now().UTC()
	return s.store.Put(ctx, sess)
}

// End deletes the session. Idempotent: ending an unknown session succeeds.
func (s *Service) End(ctx context.Context, sessionID string) error {
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	}
	return nil
}

// ListActive fetches every indexed session, silently skipping ids that fail
// to load (e.g. expired between listing and fetch).
func (s *Service) ListActive(ctx context.Context) ([]*Session, error) {
	ids, err := s.store.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.store.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	all, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(all))
	for _, sess := range all {
		if sess.UserID == userID {
			out = append(out, sess)
		}
	}
	return out, nil
}
