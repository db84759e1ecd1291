package transcript

import (
	"fmt"
	"strings"
	"testing"

	"github.com/koscakluka/ema-relay/core/events"
)

func sequentialIDs() AssemblerOption {
	next := 0
	return WithIDGenerator(func() string {
		next++
		return fmt.Sprintf("local_%d", next)
	})
}

func messageByID(t *testing.T, snapshot []Message, id string) Message {
	t.Helper()

	for _, message := range snapshot {
		if message.ID == id {
			return message
		}
	}
	t.Fatalf("expected message %q in snapshot %+v", id, snapshot)
	return Message{}
}

func TestTranscriptionReplacesPendingPlaceholder(t *testing.T) {
	assembler := NewAssembler()

	assembler.Apply(events.NewSpeechStartedControl("item_1"))
	if got := messageByID(t, assembler.Snapshot(), "item_1"); got.Content != PendingPlaceholder || got.Role != RoleUser || got.Phase != PhasePending {
		t.Fatalf("expected pending user placeholder, got %+v", got)
	}

	assembler.Apply(events.NewTranscription("item_1", "what is the weather"))
	if got := messageByID(t, assembler.Snapshot(), "item_1"); got.Content != "what is the weather" || got.Phase != PhaseFinal {
		t.Fatalf("expected final transcription, got %+v", got)
	}

	assembler.Apply(events.NewTranscription("item_1", "something else"))
	assembler.Apply(events.NewTextDeltaMessage("item_1", " and more"))
	if got := messageByID(t, assembler.Snapshot(), "item_1"); got.Content != "what is the weather" {
		t.Fatalf("expected final message to stay unchanged, got %q", got.Content)
	}
}

func TestDeltasConcatenateInArrivalOrder(t *testing.T) {
	testCases := []struct {
		name      string
		fragments []string
	}{
		{name: "single", fragments: []string{"Hello"}},
		{name: "several", fragments: []string{"It", " is", " sunny", "."}},
		{name: "with empty fragments", fragments: []string{"", "a", "", "b"}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assembler := NewAssembler()
			for _, fragment := range testCase.fragments {
				assembler.Apply(events.NewTextDeltaMessage("item_a", fragment))
			}

			got := messageByID(t, assembler.Snapshot(), "item_a")
			if expected := strings.Join(testCase.fragments, ""); got.Content != expected {
				t.Fatalf("expected %q, got %q", expected, got.Content)
			}
			if got.Role != RoleAssistant {
				t.Fatalf("expected assistant role, got %q", got.Role)
			}
		})
	}
}

func TestTextDoneFinalizesButLateDeltasStillAppend(t *testing.T) {
	assembler := NewAssembler()

	assembler.Apply(events.NewTextDeltaMessage("item_a", "Hi"))
	assembler.Apply(events.NewTextDone())
	if got := messageByID(t, assembler.Snapshot(), "item_a"); got.Phase != PhaseFinal {
		t.Fatalf("expected final phase after text_done, got %s", got.Phase)
	}

	assembler.Apply(events.NewTextDeltaMessage("item_a", " there"))
	if got := messageByID(t, assembler.Snapshot(), "item_a"); got.Content != "Hi there" {
		t.Fatalf("expected late delta to be appended, got %q", got.Content)
	}
}

func TestSnapshotKeepsFirstSeenOrder(t *testing.T) {
	assembler := NewAssembler()

	assembler.Apply(events.NewTextDeltaMessage("b", "first"))
	assembler.Apply(events.NewSpeechStartedControl("a"))
	assembler.Apply(events.NewTextDeltaMessage("c", "third"))
	assembler.Apply(events.NewTextDeltaMessage("b", " updated"))
	assembler.Apply(events.NewTranscription("a", "second"))

	snapshot := assembler.Snapshot()
	var ids []string
	for _, message := range snapshot {
		ids = append(ids, message.ID)
	}
	if got := strings.Join(ids, ","); got != "b,a,c" {
		t.Fatalf("expected order b,a,c, got %s", got)
	}
}

func TestRoleNormalization(t *testing.T) {
	assembler := NewAssembler()

	systemID := assembler.Add("system", "be nice")
	emptyID := assembler.Add("", "no role")
	statusID := assembler.AddStatus("Reconnecting soon")
	userID := assembler.AddUserText("hi")

	snapshot := assembler.Snapshot()
	expectations := map[string]Role{
		systemID: RoleAssistant,
		emptyID:  RoleAssistant,
		statusID: RoleStatus,
		userID:   RoleUser,
	}
	for id, expected := range expectations {
		if got := messageByID(t, snapshot, id).Role; got != expected {
			t.Fatalf("expected role %q for %s, got %q", expected, id, got)
		}
	}
}

func TestConnectedReplacesConnectingStatus(t *testing.T) {
	assembler := NewAssembler(sequentialIDs())

	assembler.AddStatus(ConnectingStatus)
	keptID := assembler.AddStatus("Microphone muted")
	assembler.AddStatus("CONNECTING TO RELAY")
	assembler.Apply(events.NewConnected("Hello! How can I help?"))

	snapshot := assembler.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 messages, got %+v", snapshot)
	}
	if snapshot[0].ID != keptID {
		t.Fatalf("expected unrelated status to be kept, got %+v", snapshot[0])
	}
	if snapshot[1].Role != RoleAssistant || snapshot[1].Content != "Hello! How can I help?" {
		t.Fatalf("expected assistant greeting, got %+v", snapshot[1])
	}
}

func TestSpeechWithoutIDIsAdoptedByTranscription(t *testing.T) {
	assembler := NewAssembler(sequentialIDs())

	assembler.Apply(events.NewSpeechStartedControl(""))
	assembler.Apply(events.NewTranscription("item_9", "turn on the lights"))

	snapshot := assembler.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("expected the transcription to reuse the pending message, got %+v", snapshot)
	}
	if got := snapshot[0]; got.ID != "local_1" || got.Content != "turn on the lights" || got.Phase != PhaseFinal {
		t.Fatalf("expected adopted final message, got %+v", got)
	}

	assembler.Apply(events.NewTranscription("item_9", "ignored"))
	if got := assembler.Snapshot(); len(got) != 1 || got[0].Content != "turn on the lights" {
		t.Fatalf("expected repeated transcription to be ignored, got %+v", got)
	}
}

func TestUnmatchedTranscriptionCreatesUserMessage(t *testing.T) {
	assembler := NewAssembler()

	assembler.Apply(events.NewTranscription("item_x", "hello"))

	if got := messageByID(t, assembler.Snapshot(), "item_x"); got.Role != RoleUser || got.Content != "hello" {
		t.Fatalf("expected user message, got %+v", got)
	}
}

func TestErrorControlAddsStatus(t *testing.T) {
	assembler := NewAssembler()

	assembler.Apply(events.NewErrorControl("upstream went away"))

	snapshot := assembler.Snapshot()
	if len(snapshot) != 1 || snapshot[0].Role != RoleStatus || !strings.Contains(snapshot[0].Content, "upstream went away") {
		t.Fatalf("expected error status, got %+v", snapshot)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	assembler := NewAssembler()
	assembler.Apply(events.NewTextDeltaMessage("item_a", "Hi"))

	snapshot := assembler.Snapshot()
	snapshot[0].Content = "changed"

	if got := messageByID(t, assembler.Snapshot(), "item_a"); got.Content != "Hi" {
		t.Fatalf("expected assembler to be unaffected by snapshot mutation, got %q", got.Content)
	}
}

func TestSnapshotIsDetachedFromLaterUpdates(t *testing.T) {
	assembler := NewAssembler()
	assembler.Apply(events.NewTextDeltaMessage("item_a", "Hi"))

	snapshot := assembler.Snapshot()
	assembler.Apply(events.NewTextDeltaMessage("item_a", " there"))
	assembler.Apply(events.NewTextDone())

	if snapshot[0].Content != "Hi" || snapshot[0].Phase != PhaseStreaming {
		t.Fatalf("expected snapshot to keep the state it was taken in, got %+v", snapshot[0])
	}
	if got := messageByID(t, assembler.Snapshot(), "item_a"); got.Content != "Hi there" || got.Phase != PhaseFinal {
		t.Fatalf("expected a new snapshot to see the updates, got %+v", got)
	}
}
