package convo

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// MaxMessages caps the retained history per session; the oldest entries are
// evicted first.
const MaxMessages = 20

// Message is one conversational turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is the per-session conversational state held in the shared store.
type Session struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id,omitempty"`
	Messages       []Message `json:"messages"`
	Context        string    `json:"context,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Interrupted    bool      `json:"interrupted"`
}

func (s *Session) appendMessage(role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
	if len(s.Messages) > MaxMessages {
		s.Messages = s.Messages[len(s.Messages)-MaxMessages:]
	}
}
