package transcript

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleStatus    Role = "status"
)

// normalized coerces everything that is not explicitly a user or status
// message to assistant.
func (r Role) normalized() Role {
	switch r {
	case RoleUser, RoleStatus:
		return r
	default:
		return RoleAssistant
	}
}

type Phase int

const (
	// PhasePending is a user message whose speech was detected but not yet
	// transcribed.
	PhasePending Phase = iota
	PhaseStreaming
	// PhaseFinal messages are not changed any more, apart from late
	// assistant deltas.
	PhaseFinal
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseStreaming:
		return "streaming"
	case PhaseFinal:
		return "final"
	}
	return "unknown"
}

type Message struct {
	ID      string
	Role    Role
	Content string
	Phase   Phase
}
