package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageAudioChunk(t *testing.T) {
	raw := []byte(`{"type":"audio-chunk","audio":"AAAA","sampleRate":16000}`)
	parsed, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	msg, ok := parsed.(AudioChunk)
	if !ok {
		t.Fatalf("parsed type = %T", parsed)
	}
	if msg.AudioBase64 != "AAAA" || msg.SampleRate != 16000 {
		t.Fatalf("fields = %+v", msg)
	}
}

func TestParseClientMessageValidation(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"audio without payload", `{"type":"audio-chunk","sampleRate":16000}`},
		{"audio without sample rate", `{"type":"audio-chunk","audio":"AAAA"}`},
		{"text without text", `{"type":"text-message"}`},
		{"context without context", `{"type":"add-context"}`},
	}
	for _, tc := range cases {
		if _, err := ParseClientMessage([]byte(tc.raw)); err == nil {
			t.Fatalf("%s: expected an error", tc.name)
		}
	}
}

func TestParseClientMessageControls(t *testing.T) {
	if parsed, err := ParseClientMessage([]byte(`{"type":"interrupt"}`)); err != nil {
		t.Fatalf("interrupt: %v", err)
	} else if _, ok := parsed.(Interrupt); !ok {
		t.Fatalf("interrupt parsed as %T", parsed)
	}

	if parsed, err := ParseClientMessage([]byte(`{"type":"clear-history"}`)); err != nil {
		t.Fatalf("clear-history: %v", err)
	} else if _, ok := parsed.(ClearHistory); !ok {
		t.Fatalf("clear-history parsed as %T", parsed)
	}

	parsed, err := ParseClientMessage([]byte(`{"type":"start-conversation","context":"cooking"}`))
	if err != nil {
		t.Fatalf("start-conversation: %v", err)
	}
	start, ok := parsed.(StartConversation)
	if !ok {
		t.Fatalf("start-conversation parsed as %T", parsed)
	}
	if start.Context != "cooking" {
		t.Fatalf("context = %q", start.Context)
	}
}

func TestParseClientMessageUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"reboot"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("err = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageBadJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{nope`)); err == nil {
		t.Fatalf("expected an error for malformed JSON")
	}
}
