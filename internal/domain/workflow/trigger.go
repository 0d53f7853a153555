package workflow

// Trigger represents an action that can cause a status transition
type Trigger string

const (
	// TriggerAdvance records an intermediate approval that leaves further
	// levels pending.
	TriggerAdvance Trigger = "ADVANCE"

	// TriggerFinalize records the approval of the last remaining level.
	TriggerFinalize Trigger = "FINALIZE"

	// TriggerReject terminates the workflow from any actionable status.
	TriggerReject Trigger = "REJECT"

	// TriggerEscalate flags a workflow whose current level has exceeded the
	// rule's escalation threshold.
	TriggerEscalate Trigger = "ESCALATE"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
