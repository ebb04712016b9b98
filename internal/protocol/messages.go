package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Inbound (client to server).
	TypeStartConversation MessageType = "start-conversation"
	TypeAudioChunk        MessageType = "audio-chunk"
	TypeTextMessage       MessageType = "text-message"
	TypeInterrupt         MessageType = "interrupt"
	TypeAddContext        MessageType = "add-context"
	TypeClearHistory      MessageType = "clear-history"

	// Outbound (server to client).
	TypeConnected           MessageType = "connected"
	TypeConversationStarted MessageType = "conversation-started"
	TypeTranscript          MessageType = "transcript"
	TypeProcessing          MessageType = "processing"
	TypeAIResponse          MessageType = "ai-response"
	TypeAudioOut            MessageType = "audio-chunk"
	TypeInterrupted         MessageType = "interrupted"
	TypeContextUpdated      MessageType = "context-updated"
	TypeHistoryCleared      MessageType = "history-cleared"
	TypeError               MessageType = "error"
	TypeResponseComplete    MessageType = "response-complete"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type StartConversation struct {
	Type    MessageType `json:"type"`
	Context string      `json:"context,omitempty"`
}

type AudioChunk struct {
	Type        MessageType `json:"type"`
	AudioBase64 string      `json:"audio"`
	SampleRate  int         `json:"sampleRate"`
}

type TextMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type Interrupt struct {
	Type MessageType `json:"type"`
}

type AddContext struct {
	Type    MessageType `json:"type"`
	Context string      `json:"context"`
}

type ClearHistory struct {
	Type MessageType `json:"type"`
}

type Connected struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
}

type ConversationStarted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
}

type Transcript struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	Text      string      `json:"text"`
	Final     bool        `json:"isFinal"`
}

type Processing struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	Status    string      `json:"status"`
}

type AIResponse struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	Text      string      `json:"text"`
}

type AudioOut struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"sessionId"`
	Seq         int         `json:"seq"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio"`
}

type Interrupted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
}

type ContextUpdated struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
}

type HistoryCleared struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail"`
}

type ResponseComplete struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
}

// ParseClientMessage decodes and validates one inbound payload.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeStartConversation:
		var msg StartConversation
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAudioChunk:
		var msg AudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.AudioBase64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid audio-chunk")
		}
		return msg, nil
	case TypeTextMessage:
		var msg TextMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, errors.New("invalid text-message")
		}
		return msg, nil
	case TypeInterrupt:
		var msg Interrupt
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAddContext:
		var msg AddContext
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Context == "" {
			return nil, errors.New("invalid add-context")
		}
		return msg, nil
	case TypeClearHistory:
		var msg ClearHistory
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
