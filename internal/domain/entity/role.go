package entity

import "time"

// Role is a named approval role with a position in the authority hierarchy.
// Higher HierarchyLevel implies greater authority. Roles referenced by a rule
// version are deactivated rather than deleted.
type Role struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	Code           string            `json:"code"`
	HierarchyLevel int               `json:"hierarchy_level"`
	IsActive       bool              `json:"is_active"`
	Permissions    map[string]string `json:"permissions,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Hierarchy is a comparison table resolved once from the active role set.
// It replaces ad-hoc "is admin" checks: a role satisfies a requirement when
// it is the required role or sits at an equal or higher hierarchy level.
type Hierarchy struct {
	levels map[string]int
}

// NewHierarchy builds a comparison table from the given roles.
// Inactive roles are excluded; holding a deactivated role grants nothing.
func NewHierarchy(roles []*Role) *Hierarchy {
	levels := make(map[string]int, len(roles))
	for _, r := range roles {
		if r.IsActive {
			levels[r.Code] = r.HierarchyLevel
		}
	}
	return &Hierarchy{levels: levels}
}

// Knows reports whether the role code is part of the active role set.
func (h *Hierarchy) Knows(code string) bool {
	_, ok := h.levels[code]
	return ok
}

// Level returns the hierarchy level for a role code, or -1 if unknown.
func (h *Hierarchy) Level(code string) int {
	if lvl, ok := h.levels[code]; ok {
		return lvl
	}
	return -1
}

// Satisfies reports whether an actor holding actorCode meets the requirement
// of requiredCode. When delegation is allowed, any active role at an equal or
// higher level qualifies; otherwise only the exact role does.
func (h *Hierarchy) Satisfies(actorCode, requiredCode string, allowHigher bool) bool {
	required, ok := h.levels[requiredCode]
	if !ok {
		return false
	}
	if actorCode == requiredCode {
		return true
	}
	if !allowHigher {
		return false
	}
	actor, ok := h.levels[actorCode]
	if !ok {
		return false
	}
	return actor >= required
}

// AnySatisfies reports whether any of the actor's roles meets the requirement.
func (h *Hierarchy) AnySatisfies(actorCodes []string, requiredCode string, allowHigher bool) bool {
	for _, code := range actorCodes {
		if h.Satisfies(code, requiredCode, allowHigher) {
			return true
		}
	}
	return false
}
