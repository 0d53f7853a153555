package event

// Type identifies the type of domain event
type Type string

const (
	TypeWorkflowCreated      Type = "workflow.created"
	TypeWorkflowAutoApproved Type = "workflow.auto_approved"
	TypeWorkflowAdvanced     Type = "workflow.advanced"
	TypeWorkflowApproved     Type = "workflow.approved"
	TypeWorkflowRejected     Type = "workflow.rejected"
	TypeWorkflowEscalated    Type = "workflow.escalated"
	TypeOverrideApplied      Type = "workflow.override_applied"
	TypeMatrixChanged        Type = "matrix.changed"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeWorkflowCreated,
		TypeWorkflowAutoApproved,
		TypeWorkflowAdvanced,
		TypeWorkflowApproved,
		TypeWorkflowRejected,
		TypeWorkflowEscalated,
		TypeOverrideApplied,
		TypeMatrixChanged:
		return true
	default:
		return false
	}
}
