package workflow

import (
	"context"
	"fmt"
)

// GuardFunc evaluates whether a candidate transition may fire
type GuardFunc func(ctx context.Context) bool

// Machine tracks a current state and validates transitions against a
// configured transition table.
type Machine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger has at least one transition
	// configured from the current state
	CanFire(trigger Trigger) bool

	// Fire executes the trigger, moving to the target state of the first
	// transition whose guard passes
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns the triggers configured for the current state
	PermittedTriggers() []Trigger
}

type edge struct {
	from  State
	via   Trigger
	to    State
	guard GuardFunc
}

// Builder assembles a transition table and mints machines bound to it.
// The table is shared read-only between machines built from one Builder.
type Builder struct {
	edges []edge
}

// NewBuilder creates an empty transition table builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Permit allows trigger to move the machine from one state to another
func (b *Builder) Permit(from State, via Trigger, to State) *Builder {
	return b.PermitIf(from, via, to, nil)
}

// PermitIf allows the transition only when guard passes at fire time
func (b *Builder) PermitIf(from State, via Trigger, to State, guard GuardFunc) *Builder {
	if !from.IsValid() || !to.IsValid() {
		panic(fmt.Sprintf("invalid transition %s -> %s", from, to))
	}
	if from.IsTerminal() {
		panic(fmt.Sprintf("cannot configure transition out of terminal state %s", from))
	}
	b.edges = append(b.edges, edge{from: from, via: via, to: to, guard: guard})
	return b
}

// Build creates a machine positioned at the given initial state
func (b *Builder) Build(initial State) Machine {
	if !initial.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initial))
	}
	table := make([]edge, len(b.edges))
	copy(table, b.edges)
	return &machine{current: initial, table: table}
}

type machine struct {
	current State
	table   []edge
}

func (m *machine) State() State {
	return m.current
}

func (m *machine) CanFire(trigger Trigger) bool {
	for _, e := range m.table {
		if e.from == m.current && e.via == trigger {
			return true
		}
	}
	return false
}

func (m *machine) Fire(ctx context.Context, trigger Trigger) error {
	matched := false
	for _, e := range m.table {
		if e.from != m.current || e.via != trigger {
			continue
		}
		matched = true
		if e.guard == nil || e.guard(ctx) {
			m.current = e.to
			return nil
		}
	}
	if matched {
		return fmt.Errorf("%w: trigger %s from state %s", ErrGuardFailed, trigger, m.current)
	}
	return fmt.Errorf("%w: cannot fire trigger %s from state %s", ErrInvalidTransition, trigger, m.current)
}

func (m *machine) PermittedTriggers() []Trigger {
	seen := make(map[Trigger]bool)
	var triggers []Trigger
	for _, e := range m.table {
		if e.from == m.current && !seen[e.via] {
			seen[e.via] = true
			triggers = append(triggers, e.via)
		}
	}
	return triggers
}
