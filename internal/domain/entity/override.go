package entity

import "time"

// ApprovalOverride is a named exception policy. It never creates approval; it
// only removes the listed sequence orders from a workflow's remaining chain,
// and only while the policy is valid and its preconditions hold.
type ApprovalOverride struct {
	ID                   int64             `json:"id"`
	OverrideType         OverrideType      `json:"override_type"`
	Category             *Category         `json:"category,omitempty"`
	Conditions           map[string]string `json:"conditions,omitempty"`
	BypassLevels         []int             `json:"bypass_levels"`
	RequireJustification bool              `json:"require_justification"`
	MaxAmount            *float64          `json:"max_amount,omitempty"`
	ValidFrom            time.Time         `json:"valid_from"`
	ValidUntil           time.Time         `json:"valid_until"`
	IsActive             bool              `json:"is_active"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// ValidAt reports whether the override is inside its validity window.
func (o *ApprovalOverride) ValidAt(now time.Time) bool {
	return !now.Before(o.ValidFrom) && !now.After(o.ValidUntil)
}

// AppliesTo reports whether the override can apply to a document of the given
// category and amount. A nil Category matches any category.
func (o *ApprovalOverride) AppliesTo(category Category, amount float64) bool {
	if o.Category != nil && *o.Category != category {
		return false
	}
	if o.MaxAmount != nil && amount > *o.MaxAmount {
		return false
	}
	return true
}

// BypassSet returns the bypass levels as a set.
func (o *ApprovalOverride) BypassSet() map[int]bool {
	set := make(map[int]bool, len(o.BypassLevels))
	for _, l := range o.BypassLevels {
		set[l] = true
	}
	return set
}
