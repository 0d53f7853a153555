package workflow

// State represents a workflow status in the approval lifecycle
type State string

const (
	StatePending      State = "PENDING"
	StateApproved     State = "APPROVED"
	StateRejected     State = "REJECTED"
	StateEscalated    State = "ESCALATED"
	StateAutoApproved State = "AUTO_APPROVED"
)

var validStates = map[State]bool{
	StatePending:      true,
	StateApproved:     true,
	StateRejected:     true,
	StateEscalated:    true,
	StateAutoApproved: true,
}

// Terminal states permit no further transitions. AUTO_APPROVED is
// initial-terminal: the engine creates instances in it, the machine never
// transitions into it.
var terminalStates = map[State]bool{
	StateApproved:     true,
	StateRejected:     true,
	StateAutoApproved: true,
}

// IsTerminal returns true if no further transitions are allowed from the state
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsValid returns true if the state is a valid workflow status
func (s State) IsValid() bool {
	return validStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}
