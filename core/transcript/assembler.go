package transcript

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-relay/core/events"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	// PendingPlaceholder is shown for user speech that is not transcribed yet.
	PendingPlaceholder = "..."
	ConnectingStatus   = "Connecting..."

	connectingMarker = "connecting"
)

// Assembler folds the client-visible event stream into an ordered list of
// display messages. Messages are kept in the order their id was first seen.
//
// It is safe for concurrent use.
type Assembler struct {
	mu sync.Mutex

	messages *orderedmap.OrderedMap[string, *Message]
	// aliases maps upstream ids onto locally created pending messages that
	// were adopted by a transcription.
	aliases map[string]string
	// localPending lists ids of pending user messages that were created
	// without an upstream id, oldest first.
	localPending []string

	newID func() string
}

type AssemblerOption func(*Assembler)

// WithIDGenerator replaces the generator for local message ids.
func WithIDGenerator(newID func() string) AssemblerOption {
	return func(a *Assembler) {
		if newID != nil {
			a.newID = newID
		}
	}
}

func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		messages: orderedmap.New[string, *Message](),
		aliases:  map[string]string{},
		newID:    func() string { return uuid.NewString() },
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Apply folds one message received from the relay into the transcript.
func (a *Assembler) Apply(msg events.ServerMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch m := msg.(type) {
	case events.Control:
		a.applyControl(m)
	case events.TextDelta:
		a.applyDelta(m)
	case events.Transcription:
		a.applyTranscription(m)
	}
}

// Add appends a finished message and returns its id.
func (a *Assembler) Add(role Role, content string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.insert(role, content, PhaseFinal)
}

func (a *Assembler) AddStatus(content string) string {
	return a.Add(RoleStatus, content)
}

// AddUserText records text the user typed. The relay does not echo it back.
func (a *Assembler) AddUserText(text string) string {
	return a.Add(RoleUser, text)
}

func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.messages.Len()
}

// Snapshot returns a copy of all messages in insertion order, with roles
// normalized.
func (a *Assembler) Snapshot() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	live := make([]*Message, 0, a.messages.Len())
	for pair := a.messages.Oldest(); pair != nil; pair = pair.Next() {
		live = append(live, pair.Value)
	}

	snapshot := make([]Message, 0, len(live))
	if err := copier.CopyWithOption(&snapshot, &live, copier.Option{DeepCopy: true}); err != nil {
		logger.Error("Failed to copy transcript snapshot", "error", err)
		snapshot = snapshot[:0]
		for _, message := range live {
			snapshot = append(snapshot, *message)
		}
	}
	for i := range snapshot {
		snapshot[i].Role = snapshot[i].Role.normalized()
	}

	return snapshot
}

func (a *Assembler) applyControl(control events.Control) {
	switch control.Action {
	case events.ActionConnected:
		a.removeConnectingStatus()
		if control.Greeting != "" {
			a.insert(RoleAssistant, control.Greeting, PhaseFinal)
		}

	case events.ActionSpeechStarted:
		if control.ID == "" {
			id := a.insert(RoleUser, PendingPlaceholder, PhasePending)
			a.localPending = append(a.localPending, id)
			return
		}
		if _, ok := a.lookup(control.ID); ok {
			return
		}
		a.messages.Set(control.ID, &Message{
			ID:      control.ID,
			Role:    RoleUser,
			Content: PendingPlaceholder,
			Phase:   PhasePending,
		})

	case events.ActionTextDone:
		for pair := a.messages.Oldest(); pair != nil; pair = pair.Next() {
			if pair.Value.Role != RoleUser && pair.Value.Phase == PhaseStreaming {
				pair.Value.Phase = PhaseFinal
			}
		}

	case events.ActionError:
		a.insert(RoleStatus, fmt.Sprintf("Error: %s", control.Message), PhaseFinal)
	}
}

func (a *Assembler) applyDelta(delta events.TextDelta) {
	message, ok := a.lookup(delta.ID)
	if !ok {
		a.messages.Set(delta.ID, &Message{
			ID:      delta.ID,
			Role:    RoleAssistant,
			Content: delta.Delta,
			Phase:   PhaseStreaming,
		})
		return
	}

	switch {
	case message.Role != RoleUser:
		message.Content += delta.Delta
	case message.Phase == PhasePending:
		message.Content = delta.Delta
		message.Phase = PhaseStreaming
	case message.Phase == PhaseStreaming:
		message.Content += delta.Delta
	}
}

func (a *Assembler) applyTranscription(transcription events.Transcription) {
	message, ok := a.lookup(transcription.ID)
	if !ok {
		message, ok = a.adoptLocalPending(transcription.ID)
	}
	if !ok {
		a.messages.Set(transcription.ID, &Message{
			ID:      transcription.ID,
			Role:    RoleUser,
			Content: transcription.Text,
			Phase:   PhaseFinal,
		})
		return
	}

	if message.Phase == PhaseFinal {
		return
	}
	message.Content = transcription.Text
	message.Phase = PhaseFinal
	a.forgetLocalPending(message.ID)
}

func (a *Assembler) adoptLocalPending(id string) (*Message, bool) {
	for len(a.localPending) > 0 {
		localID := a.localPending[0]
		a.localPending = a.localPending[1:]

		message, ok := a.messages.Get(localID)
		if !ok || message.Phase == PhaseFinal {
			continue
		}
		a.aliases[id] = localID
		return message, true
	}
	return nil, false
}

func (a *Assembler) forgetLocalPending(id string) {
	for i, localID := range a.localPending {
		if localID == id {
			a.localPending = append(a.localPending[:i], a.localPending[i+1:]...)
			return
		}
	}
}

func (a *Assembler) removeConnectingStatus() {
	var stale []string
	for pair := a.messages.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Role == RoleStatus && strings.Contains(strings.ToLower(pair.Value.Content), connectingMarker) {
			stale = append(stale, pair.Key)
		}
	}
	for _, id := range stale {
		a.messages.Delete(id)
	}
}

func (a *Assembler) lookup(id string) (*Message, bool) {
	if alias, ok := a.aliases[id]; ok {
		id = alias
	}
	return a.messages.Get(id)
}

func (a *Assembler) insert(role Role, content string, phase Phase) string {
	id := a.newID()
	a.messages.Set(id, &Message{ID: id, Role: role, Content: content, Phase: phase})
	return id
}
