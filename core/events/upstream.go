package events

import (
	"fmt"
	"time"
)

const (
	// KindSessionStarted identifies the upstream session becoming ready.
	KindSessionStarted Kind = "upstream.session_started"
	// KindSpeechStarted identifies the upstream detecting user speech.
	KindSpeechStarted Kind = "upstream.speech_started"
	// KindSpeechFinished identifies the upstream detecting the end of user speech.
	KindSpeechFinished Kind = "upstream.speech_finished"
	// KindStreamingDelta identifies an append-only text and/or audio fragment.
	KindStreamingDelta Kind = "upstream.streaming_delta"
	// KindTranscriptionFinished identifies the final transcript of user audio.
	KindTranscriptionFinished Kind = "upstream.transcription_finished"
	// KindStreamFinished identifies the end of a streamed response.
	KindStreamFinished Kind = "upstream.stream_finished"
	// KindUpstreamError identifies an error reported by or about the upstream.
	KindUpstreamError Kind = "upstream.error"
)

// Update is one item of the upstream session's update stream.
//
// The set of updates is closed: only the types in this file implement it, and
// consumers dispatch with a single type switch over them.
type Update interface {
	Event
	isUpdate()
}

// SessionStarted reports that the upstream session accepted the connection.
type SessionStarted struct {
	Base
	SessionID string
}

func NewSessionStarted(sessionID string) SessionStarted {
	return SessionStarted{Base: NewBase(KindSessionStarted), SessionID: sessionID}
}

// SpeechStarted reports user speech detected in the input audio. ItemID is
// the upstream id of the user item the speech will be transcribed into, when
// the upstream provides one.
type SpeechStarted struct {
	Base
	ItemID     string
	AudioStart time.Duration
}

func NewSpeechStarted(itemID string, audioStart time.Duration) SpeechStarted {
	return SpeechStarted{Base: NewBase(KindSpeechStarted), ItemID: itemID, AudioStart: audioStart}
}

// SpeechFinished reports the end of detected user speech.
type SpeechFinished struct {
	Base
	ItemID   string
	AudioEnd time.Duration
}

func NewSpeechFinished(itemID string, audioEnd time.Duration) SpeechFinished {
	return SpeechFinished{Base: NewBase(KindSpeechFinished), ItemID: itemID, AudioEnd: audioEnd}
}

// StreamingDelta carries a fragment of an assistant item. Text, Audio or both
// may be set. Fragments for the same ItemID arrive in order.
type StreamingDelta struct {
	Base
	ItemID string
	Text   string
	Audio  []byte
}

func NewTextDelta(itemID, text string) StreamingDelta {
	return StreamingDelta{Base: NewBase(KindStreamingDelta), ItemID: itemID, Text: text}
}

func NewAudioDelta(itemID string, audio []byte) StreamingDelta {
	return StreamingDelta{Base: NewBase(KindStreamingDelta), ItemID: itemID, Audio: audio}
}

// TranscriptionFinished carries the final transcript of a user item.
type TranscriptionFinished struct {
	Base
	ItemID string
	Text   string
}

func NewTranscriptionFinished(itemID, text string) TranscriptionFinished {
	return TranscriptionFinished{Base: NewBase(KindTranscriptionFinished), ItemID: itemID, Text: text}
}

// StreamFinished marks the end of one streamed response.
type StreamFinished struct {
	Base
	ResponseID string
}

func NewStreamFinished(responseID string) StreamFinished {
	return StreamFinished{Base: NewBase(KindStreamFinished), ResponseID: responseID}
}

// UpstreamError is an error reported by the upstream service, or a transport
// failure of the upstream connection. Recoverable errors leave the stream
// usable; all others end the session.
type UpstreamError struct {
	Base
	Code        string
	Message     string
	Recoverable bool
}

func NewUpstreamError(code, message string, recoverable bool) UpstreamError {
	return UpstreamError{Base: NewBase(KindUpstreamError), Code: code, Message: message, Recoverable: recoverable}
}

func (e UpstreamError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("upstream error: %s", e.Message)
	}
	return fmt.Sprintf("upstream error (%s): %s", e.Code, e.Message)
}

func (SessionStarted) isUpdate()        {}
func (SpeechStarted) isUpdate()         {}
func (SpeechFinished) isUpdate()        {}
func (StreamingDelta) isUpdate()        {}
func (TranscriptionFinished) isUpdate() {}
func (StreamFinished) isUpdate()        {}
func (UpstreamError) isUpdate()         {}
