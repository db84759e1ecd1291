package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/koscakluka/ema-relay/core/events"
)

// ErrMalformedMessage is returned for frames that are not valid JSON, carry
// an unknown type or miss required fields.
var ErrMalformedMessage = errors.New("malformed message")

const (
	TypeUserMessage   = "user_message"
	TypeTextDelta     = "text_delta"
	TypeTranscription = "transcription"
	TypeControl       = "control"
)

// UserMessageFrame is typed user text, client to relay.
type UserMessageFrame struct {
	Type string `json:"type" jsonschema:"enum=user_message"`
	Text string `json:"text" jsonschema:"minLength=1"`
}

// TextDeltaFrame is an assistant text fragment, relay to client.
type TextDeltaFrame struct {
	Type  string `json:"type" jsonschema:"enum=text_delta"`
	ID    string `json:"id"`
	Delta string `json:"delta"`
}

// TranscriptionFrame is a final user transcript, relay to client.
type TranscriptionFrame struct {
	Type string `json:"type" jsonschema:"enum=transcription"`
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ControlFrame is a lifecycle signal, relay to client.
type ControlFrame struct {
	Type     string `json:"type" jsonschema:"enum=control"`
	Action   string `json:"action" jsonschema:"enum=connected,enum=speech_started,enum=text_done,enum=error"`
	Greeting string `json:"greeting,omitempty"`
	ID       string `json:"id,omitempty"`
	Message  string `json:"message,omitempty"`
}

type envelope struct {
	Type string `json:"type"`
}

// DecodeClientMessage decodes one text frame received from the client.
func DecodeClientMessage(data []byte) (events.UserMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return events.UserMessage{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	switch env.Type {
	case TypeUserMessage:
		var frame UserMessageFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return events.UserMessage{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
		if frame.Text == "" {
			return events.UserMessage{}, fmt.Errorf("%w: user_message without text", ErrMalformedMessage)
		}
		return events.NewUserMessage(frame.Text), nil
	default:
		return events.UserMessage{}, fmt.Errorf("%w: unknown client message type %q", ErrMalformedMessage, env.Type)
	}
}

// EncodeUserMessage encodes typed user text for the relay.
func EncodeUserMessage(text string) ([]byte, error) {
	return json.Marshal(UserMessageFrame{Type: TypeUserMessage, Text: text})
}

// EncodeServerMessage encodes a message for the client.
func EncodeServerMessage(msg events.ServerMessage) ([]byte, error) {
	switch m := msg.(type) {
	case events.TextDelta:
		return json.Marshal(TextDeltaFrame{Type: TypeTextDelta, ID: m.ID, Delta: m.Delta})
	case events.Transcription:
		return json.Marshal(TranscriptionFrame{Type: TypeTranscription, ID: m.ID, Text: m.Text})
	case events.Control:
		return json.Marshal(ControlFrame{
			Type:     TypeControl,
			Action:   string(m.Action),
			Greeting: m.Greeting,
			ID:       m.ID,
			Message:  m.Message,
		})
	default:
		return nil, fmt.Errorf("cannot encode server message of type %T", msg)
	}
}

// DecodeServerMessage decodes one text frame received from the relay.
func DecodeServerMessage(data []byte) (events.ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	switch env.Type {
	case TypeTextDelta:
		var frame TextDeltaFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
		return events.NewTextDeltaMessage(frame.ID, frame.Delta), nil

	case TypeTranscription:
		var frame TranscriptionFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
		return events.NewTranscription(frame.ID, frame.Text), nil

	case TypeControl:
		var frame ControlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
		switch action := events.ControlAction(frame.Action); action {
		case events.ActionConnected:
			return events.NewConnected(frame.Greeting), nil
		case events.ActionSpeechStarted:
			return events.NewSpeechStartedControl(frame.ID), nil
		case events.ActionTextDone:
			return events.NewTextDone(), nil
		case events.ActionError:
			return events.NewErrorControl(frame.Message), nil
		default:
			return nil, fmt.Errorf("%w: unknown control action %q", ErrMalformedMessage, frame.Action)
		}

	default:
		return nil, fmt.Errorf("%w: unknown server message type %q", ErrMalformedMessage, env.Type)
	}
}
