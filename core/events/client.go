package events

const (
	// KindControl identifies a client-facing control message.
	KindControl Kind = "client.control"
	// KindTextDelta identifies a client-facing text fragment.
	KindTextDelta Kind = "client.text_delta"
	// KindTranscription identifies a client-facing final user transcript.
	KindTranscription Kind = "client.transcription"
	// KindUserMessage identifies typed user text sent by the client.
	KindUserMessage Kind = "client.user_message"
)

// ServerMessage is a message the relay sends to its client. Like Update, the
// set is closed.
type ServerMessage interface {
	Event
	isServerMessage()
}

type ControlAction string

const (
	ActionConnected     ControlAction = "connected"
	ActionSpeechStarted ControlAction = "speech_started"
	ActionTextDone      ControlAction = "text_done"
	ActionError         ControlAction = "error"
)

// Control carries a lifecycle signal. Greeting is only set for connected, ID
// only for speech_started and Message only for error.
type Control struct {
	Base
	Action   ControlAction
	Greeting string
	ID       string
	Message  string
}

func NewConnected(greeting string) Control {
	return Control{Base: NewBase(KindControl), Action: ActionConnected, Greeting: greeting}
}

func NewSpeechStartedControl(id string) Control {
	return Control{Base: NewBase(KindControl), Action: ActionSpeechStarted, ID: id}
}

func NewTextDone() Control {
	return Control{Base: NewBase(KindControl), Action: ActionTextDone}
}

func NewErrorControl(message string) Control {
	return Control{Base: NewBase(KindControl), Action: ActionError, Message: message}
}

// TextDelta is an append-only text fragment of the message identified by ID.
type TextDelta struct {
	Base
	ID    string
	Delta string
}

func NewTextDeltaMessage(id, delta string) TextDelta {
	return TextDelta{Base: NewBase(KindTextDelta), ID: id, Delta: delta}
}

// Transcription replaces the content of the user message identified by ID.
type Transcription struct {
	Base
	ID   string
	Text string
}

func NewTranscription(id, text string) Transcription {
	return Transcription{Base: NewBase(KindTranscription), ID: id, Text: text}
}

func (Control) isServerMessage()       {}
func (TextDelta) isServerMessage()     {}
func (Transcription) isServerMessage() {}

// UserMessage is typed text sent by the client.
type UserMessage struct {
	Base
	Text string
}

func NewUserMessage(text string) UserMessage {
	return UserMessage{Base: NewBase(KindUserMessage), Text: text}
}
