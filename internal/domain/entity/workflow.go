package entity

import "time"

// Workflow status constants. A workflow is terminal once its status leaves
// PENDING/ESCALATED; AUTO_APPROVED is only reachable at creation.
const (
	StatusPending      = "PENDING"
	StatusApproved     = "APPROVED"
	StatusRejected     = "REJECTED"
	StatusEscalated    = "ESCALATED"
	StatusAutoApproved = "AUTO_APPROVED"
)

// ApprovalWorkflow is a routing instance for one business document. It is
// bound at creation to the exact rule row it was resolved against, so later
// matrix edits never change the meaning of an in-flight workflow.
type ApprovalWorkflow struct {
	ID                    int64      `json:"id"`
	Category              Category   `json:"category"`
	ReferenceID           int64      `json:"reference_id"`
	ReferenceCode         string     `json:"reference_code"`
	Amount                float64    `json:"amount"`
	Currency              string     `json:"currency"`
	RuleID                *int64     `json:"rule_id,omitempty"`
	RuleVersion           int        `json:"rule_version"`
	CurrentLevel          int        `json:"current_level"`
	Status                string     `json:"status"`
	OverrideID            *int64     `json:"override_id,omitempty"`
	OverrideJustification *string    `json:"override_justification,omitempty"`
	InitiatedBy           string     `json:"initiated_by"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// IsTerminal reports whether no further transitions are allowed.
func (w *ApprovalWorkflow) IsTerminal() bool {
	switch w.Status {
	case StatusApproved, StatusRejected, StatusAutoApproved:
		return true
	}
	return false
}

// IsActionable reports whether an approver decision may still be recorded.
func (w *ApprovalWorkflow) IsActionable() bool {
	return w.Status == StatusPending || w.Status == StatusEscalated
}

// DocumentRef identifies a business document entering approval.
type DocumentRef struct {
	Category      Category `json:"category"`
	ReferenceID   int64    `json:"reference_id"`
	ReferenceCode string   `json:"reference_code"`
	Amount        float64  `json:"amount"`
	Currency      string   `json:"currency"`
	DepartmentID  *int64   `json:"department_id,omitempty"`
	RequestedBy   string   `json:"requested_by"`
}
