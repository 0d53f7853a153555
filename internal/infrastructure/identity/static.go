// Package identity provides directory implementations resolving the approval
// role codes an actor holds. User management lives in the surrounding
// platform; the engine only ever asks "which roles does this actor have".
package identity

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/procurio/approval-engine/internal/application/port"
)

// StaticDirectory is a configuration-backed identity directory. Assignments
// are loaded at startup and can be replaced wholesale at runtime.
type StaticDirectory struct {
	mu          sync.RWMutex
	assignments map[string][]string
	logger      *zap.Logger
}

// NewStaticDirectory creates a directory from an actor -> role codes map
func NewStaticDirectory(assignments map[string][]string, logger *zap.Logger) *StaticDirectory {
	d := &StaticDirectory{
		assignments: make(map[string][]string, len(assignments)),
		logger:      logger,
	}
	d.Replace(assignments)
	return d
}

// GetActorRoles implements port.IdentityDirectory. An unknown actor holds no
// roles; that is not an error, authorization downstream fails closed.
func (d *StaticDirectory) GetActorRoles(ctx context.Context, actorID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	roles := d.assignments[actorID]
	out := make([]string, len(roles))
	copy(out, roles)
	return out, nil
}

// Replace swaps in a new assignment table
func (d *StaticDirectory) Replace(assignments map[string][]string) {
	next := make(map[string][]string, len(assignments))
	for actor, roles := range assignments {
		codes := make([]string, len(roles))
		copy(codes, roles)
		next[actor] = codes
	}

	d.mu.Lock()
	d.assignments = next
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Info("Identity assignments replaced", zap.Int("actors", len(next)))
	}
}

// Verify interface compliance
var _ port.IdentityDirectory = (*StaticDirectory)(nil)
