package wire

import (
	"errors"
	"testing"

	"github.com/koscakluka/ema-relay/core/events"
)

func TestDecodeClientMessageUserMessage(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"user_message","text":"hello"}`))
	if err != nil {
		t.Fatalf("expected user message to decode, got %v", err)
	}
	if msg.Text != "hello" {
		t.Fatalf("expected text %q, got %q", "hello", msg.Text)
	}
}

func TestDecodeClientMessageRejectsMalformedFrames(t *testing.T) {
	testCases := []struct {
		name  string
		frame string
	}{
		{name: "invalid json", frame: `{not json`},
		{name: "unknown type", frame: `{"type":"shout","text":"hello"}`},
		{name: "missing type", frame: `{"text":"hello"}`},
		{name: "text of wrong type", frame: `{"type":"user_message","text":42}`},
		{name: "empty text", frame: `{"type":"user_message","text":""}`},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := DecodeClientMessage([]byte(testCase.frame)); !errors.Is(err, ErrMalformedMessage) {
				t.Fatalf("expected ErrMalformedMessage, got %v", err)
			}
		})
	}
}

func TestEncodeServerMessageMatchesWireFormat(t *testing.T) {
	testCases := []struct {
		name     string
		msg      events.ServerMessage
		expected string
	}{
		{
			name:     "text delta",
			msg:      events.NewTextDeltaMessage("item_1", "Hel"),
			expected: `{"type":"text_delta","id":"item_1","delta":"Hel"}`,
		},
		{
			name:     "transcription",
			msg:      events.NewTranscription("item_2", "what is the weather"),
			expected: `{"type":"transcription","id":"item_2","text":"what is the weather"}`,
		},
		{
			name:     "connected",
			msg:      events.NewConnected("Hi there"),
			expected: `{"type":"control","action":"connected","greeting":"Hi there"}`,
		},
		{
			name:     "speech started",
			msg:      events.NewSpeechStartedControl("item_3"),
			expected: `{"type":"control","action":"speech_started","id":"item_3"}`,
		},
		{
			name:     "text done",
			msg:      events.NewTextDone(),
			expected: `{"type":"control","action":"text_done"}`,
		},
		{
			name:     "error",
			msg:      events.NewErrorControl("upstream went away"),
			expected: `{"type":"control","action":"error","message":"upstream went away"}`,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got, err := EncodeServerMessage(testCase.msg)
			if err != nil {
				t.Fatalf("expected message to encode, got %v", err)
			}
			if string(got) != testCase.expected {
				t.Fatalf("expected %s, got %s", testCase.expected, got)
			}
		})
	}
}

func TestDecodeServerMessageControl(t *testing.T) {
	msg, err := DecodeServerMessage([]byte(`{"type":"control","action":"speech_started","id":"item_3"}`))
	if err != nil {
		t.Fatalf("expected control to decode, got %v", err)
	}

	control, ok := msg.(events.Control)
	if !ok {
		t.Fatalf("expected events.Control, got %T", msg)
	}
	if control.Action != events.ActionSpeechStarted || control.ID != "item_3" {
		t.Fatalf("expected speech_started for item_3, got %+v", control)
	}
}

func TestDecodeServerMessageRejectsUnknownAction(t *testing.T) {
	if _, err := DecodeServerMessage([]byte(`{"type":"control","action":"dance"}`)); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}
