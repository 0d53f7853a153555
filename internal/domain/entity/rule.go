package entity

import (
	"sort"
	"time"
)

// ApprovalRule governs documents of one category whose amount falls inside the
// [MinAmount, MaxAmount) band. MaxAmount nil means the band is unbounded
// above. A nil DepartmentID applies the rule to all departments. Rule rows are
// immutable once referenced by a workflow; edits produce a new row with a
// higher Version and deactivate the old one.
type ApprovalRule struct {
	ID                 int64             `json:"id"`
	Category           Category          `json:"category"`
	Name               string            `json:"name"`
	MinAmount          float64           `json:"min_amount"`
	MaxAmount          *float64          `json:"max_amount,omitempty"`
	Currency           string            `json:"currency"`
	DepartmentID       *int64            `json:"department_id,omitempty"`
	RequiresSequential bool              `json:"requires_sequential"`
	AutoApproveBelow   *float64          `json:"auto_approve_below,omitempty"`
	EscalationHours    *int              `json:"escalation_hours,omitempty"`
	IsActive           bool              `json:"is_active"`
	Conditions         map[string]string `json:"conditions,omitempty"`
	Version            int               `json:"version"`
	Approvers          []*RuleApprover   `json:"approvers"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// RuleApprover is one level in a rule's ordered approver chain.
// SequenceOrder is unique within a rule and ascends with authority.
type RuleApprover struct {
	ID             int64 `json:"id"`
	RuleID         int64 `json:"rule_id"`
	ApprovalRoleID int64 `json:"approval_role_id"`
	SequenceOrder  int   `json:"sequence_order"`
	IsMandatory    bool  `json:"is_mandatory"`
	CanDelegate    bool  `json:"can_delegate"`
}

// Contains reports whether the rule's band contains the amount.
func (r *ApprovalRule) Contains(amount float64) bool {
	if amount < r.MinAmount {
		return false
	}
	return r.MaxAmount == nil || amount < *r.MaxAmount
}

// Overlaps reports whether two bands share any amount. Bands are half-open,
// so [0,50000) and [50000,nil) do not overlap.
func (r *ApprovalRule) Overlaps(other *ApprovalRule) bool {
	if r.MaxAmount != nil && *r.MaxAmount <= other.MinAmount {
		return false
	}
	if other.MaxAmount != nil && *other.MaxAmount <= r.MinAmount {
		return false
	}
	return true
}

// SameScope reports whether two rules govern the same
// (category, currency, department-or-null) scope.
func (r *ApprovalRule) SameScope(other *ApprovalRule) bool {
	if r.Category != other.Category || r.Currency != other.Currency {
		return false
	}
	if (r.DepartmentID == nil) != (other.DepartmentID == nil) {
		return false
	}
	return r.DepartmentID == nil || *r.DepartmentID == *other.DepartmentID
}

// ApproverAt returns the approver at the given sequence order, or nil.
func (r *ApprovalRule) ApproverAt(level int) *RuleApprover {
	for _, a := range r.Approvers {
		if a.SequenceOrder == level {
			return a
		}
	}
	return nil
}

// MandatoryLevels returns the sequence orders of mandatory approvers,
// ascending.
func (r *ApprovalRule) MandatoryLevels() []int {
	levels := make([]int, 0, len(r.Approvers))
	for _, a := range r.Approvers {
		if a.IsMandatory {
			levels = append(levels, a.SequenceOrder)
		}
	}
	sort.Ints(levels)
	return levels
}

// NextMandatoryLevel returns the lowest mandatory sequence order strictly
// greater than after, skipping bypassed levels. ok is false when none remain.
func (r *ApprovalRule) NextMandatoryLevel(after int, bypassed map[int]bool) (level int, ok bool) {
	for _, l := range r.MandatoryLevels() {
		if l > after && !bypassed[l] {
			return l, true
		}
	}
	return 0, false
}

// FirstMandatoryLevel returns the lowest mandatory sequence order not
// bypassed. ok is false when the chain is empty.
func (r *ApprovalRule) FirstMandatoryLevel(bypassed map[int]bool) (level int, ok bool) {
	return r.NextMandatoryLevel(-1<<31, bypassed)
}
