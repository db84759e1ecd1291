package wire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/koscakluka/ema-relay/core/events"
)

// ErrUnhandledEvent is returned for upstream events that have no Update
// counterpart. Callers skip them.
var ErrUnhandledEvent = errors.New("unhandled upstream event")

// MaxInputAudioChunk bounds the raw audio carried by one append command.
const MaxInputAudioChunk = 128 * 1024

const (
	typeSessionUpdate          = "session.update"
	typeConversationItemCreate = "conversation.item.create"
	typeInputAudioBufferAppend = "input_audio_buffer.append"
	typeResponseCreate         = "response.create"
)

type conversationItemCreate struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type inputAudioBufferAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type responseCreate struct {
	Type string `json:"type"`
}

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// SessionConfig is sent once after connecting so the upstream streams the
// events the relay relies on.
type SessionConfig struct {
	Modalities              []string                 `json:"modalities,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	Voice                   string                   `json:"voice,omitempty"`
	InputAudioFormat        string                   `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string                   `json:"output_audio_format,omitempty"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection           `json:"turn_detection,omitempty"`
}

type InputAudioTranscription struct {
	Model string `json:"model"`
}

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// EncodeAppendConversationItem encodes user text as one conversation item.
func EncodeAppendConversationItem(text string) ([]byte, error) {
	return json.Marshal(conversationItemCreate{
		Type: typeConversationItemCreate,
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []contentPart{{Type: "input_text", Text: text}},
		},
	})
}

// EncodeAppendInputAudio wraps raw PCM16 audio into base64 append commands.
// Audio larger than MaxInputAudioChunk is split on sample boundaries, in
// order.
func EncodeAppendInputAudio(chunk []byte) ([][]byte, error) {
	if len(chunk) == 0 {
		return nil, nil
	}

	commands := make([][]byte, 0, len(chunk)/MaxInputAudioChunk+1)
	for start := 0; start < len(chunk); start += MaxInputAudioChunk {
		end := min(start+MaxInputAudioChunk, len(chunk))
		command, err := json.Marshal(inputAudioBufferAppend{
			Type:  typeInputAudioBufferAppend,
			Audio: base64.StdEncoding.EncodeToString(chunk[start:end]),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode input audio: %w", err)
		}
		commands = append(commands, command)
	}

	return commands, nil
}

func EncodeResponseCreate() ([]byte, error) {
	return json.Marshal(responseCreate{Type: typeResponseCreate})
}

func EncodeSessionUpdate(config SessionConfig) ([]byte, error) {
	return json.Marshal(sessionUpdate{Type: typeSessionUpdate, Session: config})
}

type upstreamEvent struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id"`
	ItemID       string `json:"item_id"`
	ResponseID   string `json:"response_id"`
	Delta        string `json:"delta"`
	Transcript   string `json:"transcript"`
	AudioStartMs int64  `json:"audio_start_ms"`
	AudioEndMs   int64  `json:"audio_end_ms"`

	Session *struct {
		ID string `json:"id"`
	} `json:"session"`
	Response *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
		EventID string `json:"event_id"`
	} `json:"error"`
}

// DecodeUpstreamEvent decodes one upstream text frame.
//
// Service errors tied to a specific client command (error.event_id set) are
// marked recoverable: the service rejected one command and keeps streaming.
func DecodeUpstreamEvent(data []byte) (events.Update, error) {
	var event upstreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	switch event.Type {
	case "session.created":
		sessionID := ""
		if event.Session != nil {
			sessionID = event.Session.ID
		}
		return events.NewSessionStarted(sessionID), nil

	case "input_audio_buffer.speech_started":
		return events.NewSpeechStarted(event.ItemID, time.Duration(event.AudioStartMs)*time.Millisecond), nil

	case "input_audio_buffer.speech_stopped":
		return events.NewSpeechFinished(event.ItemID, time.Duration(event.AudioEndMs)*time.Millisecond), nil

	case "response.text.delta", "response.audio_transcript.delta",
		"response.output_text.delta", "response.output_audio_transcript.delta":
		return events.NewTextDelta(event.ItemID, event.Delta), nil

	case "response.audio.delta", "response.output_audio.delta":
		audio, err := base64.StdEncoding.DecodeString(event.Delta)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid audio delta: %w", ErrMalformedMessage, err)
		}
		return events.NewAudioDelta(event.ItemID, audio), nil

	case "conversation.item.input_audio_transcription.completed":
		return events.NewTranscriptionFinished(event.ItemID, event.Transcript), nil

	case "response.done":
		responseID := event.ResponseID
		if event.Response != nil {
			responseID = event.Response.ID
		}
		return events.NewStreamFinished(responseID), nil

	case "error":
		if event.Error == nil {
			return events.NewUpstreamError("", "unknown upstream error", false), nil
		}
		code := event.Error.Code
		if code == "" {
			code = event.Error.Type
		}
		return events.NewUpstreamError(code, event.Error.Message, event.Error.EventID != ""), nil

	case "":
		return nil, fmt.Errorf("%w: upstream event without type", ErrMalformedMessage)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnhandledEvent, event.Type)
	}
}
