package entity

import "time"

// MatrixSnapshot is the full approval matrix configuration at a point in
// time. It is the export/backup format: field names and nesting round-trip
// losslessly, and approver order is preserved per rule.
type MatrixSnapshot struct {
	Roles     []*Role             `json:"roles"`
	Rules     []*ApprovalRule     `json:"rules"`
	Overrides []*ApprovalOverride `json:"overrides"`
	Approvers []*RuleApprover     `json:"approvers"`
}

// MatrixVersion is an immutable snapshot record written whenever the rule,
// role, or override set changes. Version numbers strictly increase.
type MatrixVersion struct {
	ID            int64     `json:"id"`
	VersionNumber int       `json:"version_number"`
	Snapshot      string    `json:"snapshot"`
	ChangeSummary string    `json:"change_summary"`
	ChangedBy     string    `json:"changed_by"`
	CreatedAt     time.Time `json:"created_at"`
}
