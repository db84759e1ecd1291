package wire

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schemas returns the JSON schema of every client-facing message, keyed by
// its type discriminator.
func Schemas() map[string]*jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}

	return map[string]*jsonschema.Schema{
		TypeUserMessage:   reflector.Reflect(&UserMessageFrame{}),
		TypeTextDelta:     reflector.Reflect(&TextDeltaFrame{}),
		TypeTranscription: reflector.Reflect(&TranscriptionFrame{}),
		TypeControl:       reflector.Reflect(&ControlFrame{}),
	}
}

func SchemasJSON() ([]byte, error) {
	return json.MarshalIndent(Schemas(), "", "  ")
}
