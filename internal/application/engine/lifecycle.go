package engine

import (
	domainwf "github.com/procurio/approval-engine/internal/domain/workflow"
)

// buildLifecycleMachine returns a state machine configured with the approval
// lifecycle transition table, positioned at the given status.
//
// PENDING    -> APPROVED | REJECTED | ESCALATED (or stays PENDING on an
//               intermediate level approval)
// ESCALATED  -> APPROVED | REJECTED (an intermediate approval returns the
//               workflow to PENDING at the next level; escalation never
//               changes which approver must act)
//
// AUTO_APPROVED is initial-terminal: instances are created in it, the machine
// never transitions into it.
func buildLifecycleMachine(initial domainwf.State) domainwf.Machine {
	return domainwf.NewBuilder().
		Permit(domainwf.StatePending, domainwf.TriggerAdvance, domainwf.StatePending).
		Permit(domainwf.StatePending, domainwf.TriggerFinalize, domainwf.StateApproved).
		Permit(domainwf.StatePending, domainwf.TriggerReject, domainwf.StateRejected).
		Permit(domainwf.StatePending, domainwf.TriggerEscalate, domainwf.StateEscalated).
		Permit(domainwf.StateEscalated, domainwf.TriggerAdvance, domainwf.StatePending).
		Permit(domainwf.StateEscalated, domainwf.TriggerFinalize, domainwf.StateApproved).
		Permit(domainwf.StateEscalated, domainwf.TriggerReject, domainwf.StateRejected).
		Build(initial)
}
