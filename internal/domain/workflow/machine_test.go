package workflow

import (
	"context"
	"errors"
	"testing"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StatePending, false},
		{StateEscalated, false},
		{StateApproved, true},
		{StateRejected, true},
		{StateAutoApproved, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"pending", StatePending, true},
		{"auto approved", StateAutoApproved, true},
		{"unknown", State("DRAFT"), false},
		{"empty", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuilder_PermitPanicsOnTerminalSource(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Permit() should panic when configuring a transition out of a terminal state")
		}
	}()

	NewBuilder().Permit(StateApproved, TriggerReject, StateRejected)
}

func TestBuilder_BuildPanicsOnInvalidInitialState(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Build() should panic on invalid initial state")
		}
	}()

	NewBuilder().Build(State("DRAFT"))
}

func TestMachine_Fire(t *testing.T) {
	b := NewBuilder().
		Permit(StatePending, TriggerAdvance, StatePending).
		Permit(StatePending, TriggerFinalize, StateApproved).
		Permit(StatePending, TriggerReject, StateRejected).
		Permit(StatePending, TriggerEscalate, StateEscalated).
		Permit(StateEscalated, TriggerFinalize, StateApproved)

	m := b.Build(StatePending)

	if !m.CanFire(TriggerEscalate) {
		t.Error("CanFire(TriggerEscalate) = false, want true from PENDING")
	}

	if err := m.Fire(context.Background(), TriggerEscalate); err != nil {
		t.Fatalf("Fire(TriggerEscalate) error = %v", err)
	}
	if m.State() != StateEscalated {
		t.Errorf("State() = %v, want %v", m.State(), StateEscalated)
	}

	// Escalated state has no REJECT edge configured in this table
	err := m.Fire(context.Background(), TriggerReject)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fire(TriggerReject) error = %v, want ErrInvalidTransition", err)
	}

	if err := m.Fire(context.Background(), TriggerFinalize); err != nil {
		t.Fatalf("Fire(TriggerFinalize) error = %v", err)
	}
	if m.State() != StateApproved {
		t.Errorf("State() = %v, want %v", m.State(), StateApproved)
	}
}

func TestMachine_FireGuard(t *testing.T) {
	allow := false
	b := NewBuilder().
		PermitIf(StatePending, TriggerFinalize, StateApproved, func(ctx context.Context) bool {
			return allow
		})

	m := b.Build(StatePending)

	err := m.Fire(context.Background(), TriggerFinalize)
	if !errors.Is(err, ErrGuardFailed) {
		t.Errorf("Fire() error = %v, want ErrGuardFailed", err)
	}
	if m.State() != StatePending {
		t.Errorf("State() = %v, want unchanged %v", m.State(), StatePending)
	}

	allow = true
	if err := m.Fire(context.Background(), TriggerFinalize); err != nil {
		t.Fatalf("Fire() error = %v", err)
	}
	if m.State() != StateApproved {
		t.Errorf("State() = %v, want %v", m.State(), StateApproved)
	}
}

func TestMachine_PermittedTriggers(t *testing.T) {
	b := NewBuilder().
		Permit(StatePending, TriggerAdvance, StatePending).
		Permit(StatePending, TriggerReject, StateRejected)

	m := b.Build(StatePending)

	triggers := m.PermittedTriggers()
	if len(triggers) != 2 {
		t.Errorf("PermittedTriggers() returned %d triggers, want 2", len(triggers))
	}

	m2 := b.Build(StateEscalated)
	if got := m2.PermittedTriggers(); len(got) != 0 {
		t.Errorf("PermittedTriggers() from unconfigured state = %v, want empty", got)
	}
}
