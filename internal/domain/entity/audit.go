package entity

import "time"

// Audit action constants
const (
	AuditActionCreate        = "CREATE"
	AuditActionUpdate        = "UPDATE"
	AuditActionDeactivate    = "DEACTIVATE"
	AuditActionSubmit        = "SUBMIT"
	AuditActionApprove       = "APPROVE"
	AuditActionReject        = "REJECT"
	AuditActionEscalate      = "ESCALATE"
	AuditActionAutoApprove   = "AUTO_APPROVE"
	AuditActionApplyOverride = "APPLY_OVERRIDE"
	AuditActionImport        = "IMPORT"
)

// Audit entity type constants
const (
	EntityRole     = "role"
	EntityRule     = "rule"
	EntityOverride = "override"
	EntityWorkflow = "workflow"
	EntityMatrix   = "matrix"
)

// AuditLog is one immutable record of a mutating operation. OldValues and
// NewValues carry JSON snapshots of the entity before and after the change.
// Entries are append-only; nothing updates or deletes them.
type AuditLog struct {
	ID          int64     `json:"id"`
	Action      string    `json:"action"`
	EntityType  string    `json:"entity_type"`
	EntityID    int64     `json:"entity_id"`
	OldValues   string    `json:"old_values,omitempty"`
	NewValues   string    `json:"new_values,omitempty"`
	PerformedBy string    `json:"performed_by"`
	CreatedAt   time.Time `json:"created_at"`
}
