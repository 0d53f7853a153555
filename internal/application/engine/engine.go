// Package engine implements the approval workflow state machine: instance
// creation, sequential level progression, overrides and escalation.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/procurio/approval-engine/internal/application/dispatcher"
	"github.com/procurio/approval-engine/internal/application/port"
	"github.com/procurio/approval-engine/internal/application/resolver"
	"github.com/procurio/approval-engine/internal/domain/entity"
	"github.com/procurio/approval-engine/internal/domain/event"
	domainwf "github.com/procurio/approval-engine/internal/domain/workflow"
	"go.uber.org/zap"
)

// Engine creates, advances and finalizes approval workflow instances. Every
// transition is executed in one transaction together with exactly one audit
// entry; concurrent conflicting transitions surface CodeConcurrentModification
// through the workflow repository's compare-and-swap update.
type Engine struct {
	workflows  port.WorkflowRepository
	rules      port.RuleRepository
	roles      port.RoleRepository
	overrides  port.OverrideRepository
	audit      port.AuditRepository
	identity   port.IdentityDirectory
	resolver   *resolver.Resolver
	txManager  port.TransactionManager
	dispatcher dispatcher.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures the engine
type Option func(*Engine)

// WithDispatcher sets the event dispatcher used for post-commit notifications
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(e *Engine) {
		e.dispatcher = d
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates a workflow engine
func New(
	workflows port.WorkflowRepository,
	rules port.RuleRepository,
	roles port.RoleRepository,
	overrides port.OverrideRepository,
	audit port.AuditRepository,
	identity port.IdentityDirectory,
	res *resolver.Resolver,
	txManager port.TransactionManager,
	logger *zap.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		workflows: workflows,
		rules:     rules,
		roles:     roles,
		overrides: overrides,
		audit:     audit,
		identity:  identity,
		resolver:  res,
		txManager: txManager,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create resolves the applicable rule for the document and persists a new
// workflow instance. Documents under the rule's auto-approve threshold are
// created directly in AUTO_APPROVED; resolution failures leave the document
// blocked and no workflow is created.
func (e *Engine) Create(ctx context.Context, doc entity.DocumentRef) (*entity.ApprovalWorkflow, error) {
	if !doc.Category.IsValid() {
		return nil, fmt.Errorf("unknown document category %q", doc.Category)
	}
	if doc.Currency == "" {
		return nil, fmt.Errorf("document currency is required")
	}

	if existing, err := e.workflows.GetByReference(ctx, doc.Category, doc.ReferenceID); err != nil {
		return nil, err
	} else if existing != nil && !existing.IsTerminal() {
		return nil, fmt.Errorf("document %s already has an active workflow %d", doc.ReferenceCode, existing.ID)
	}

	resolved, err := e.resolver.Resolve(ctx, doc.Category, doc.Amount, doc.Currency, doc.DepartmentID)
	if err != nil {
		return nil, err
	}

	rule := resolved.Rule
	now := e.now()
	wf := &entity.ApprovalWorkflow{
		Category:      doc.Category,
		ReferenceID:   doc.ReferenceID,
		ReferenceCode: doc.ReferenceCode,
		Amount:        doc.Amount,
		Currency:      doc.Currency,
		RuleID:        &rule.ID,
		RuleVersion:   rule.Version,
		InitiatedBy:   doc.RequestedBy,
	}

	action := entity.AuditActionSubmit
	eventType := event.TypeWorkflowCreated

	if resolved.AutoApprove {
		wf.Status = entity.StatusAutoApproved
		wf.CurrentLevel = 0
		completed := now
		wf.CompletedAt = &completed
		action = entity.AuditActionAutoApprove
		eventType = event.TypeWorkflowAutoApproved
	} else {
		first, ok := rule.FirstMandatoryLevel(nil)
		if !ok {
			return nil, &entity.ConfigurationError{
				Code:       entity.CodeInvalidConfiguration,
				EntityType: entity.EntityRule,
				EntityID:   rule.ID,
				Detail:     "rule has no mandatory approver levels",
			}
		}
		wf.Status = entity.StatusPending
		wf.CurrentLevel = first
	}

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.workflows.Create(txCtx, wf); err != nil {
			return err
		}
		return e.audit.Append(txCtx, &entity.AuditLog{
			Action:      action,
			EntityType:  entity.EntityWorkflow,
			EntityID:    wf.ID,
			NewValues:   snapshot(wf, nil),
			PerformedBy: doc.RequestedBy,
		})
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Workflow created",
		zap.Int64("workflow_id", wf.ID),
		zap.String("reference_code", wf.ReferenceCode),
		zap.String("status", wf.Status),
		zap.Int64("rule_id", rule.ID),
		zap.Int("rule_version", rule.Version))

	e.emit(ctx, eventType, wf, map[string]interface{}{
		"amount":   wf.Amount,
		"currency": wf.Currency,
	})
	return wf, nil
}

// Approve records an approval by actor at the workflow's current level and
// advances to the next non-bypassed mandatory level, finalizing the workflow
// when none remain.
func (e *Engine) Approve(ctx context.Context, workflowID int64, actorID, comments string) (*entity.ApprovalWorkflow, error) {
	wf, rule, err := e.loadActionable(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	approver := rule.ApproverAt(wf.CurrentLevel)
	if approver == nil {
		return nil, &entity.ConfigurationError{
			Code:       entity.CodeInvalidConfiguration,
			EntityType: entity.EntityRule,
			EntityID:   rule.ID,
			Detail:     fmt.Sprintf("no approver at level %d", wf.CurrentLevel),
		}
	}

	if err := e.authorize(ctx, wf, actorID, approver); err != nil {
		return nil, err
	}

	bypassed, err := e.bypassSet(ctx, wf)
	if err != nil {
		return nil, err
	}

	prevStatus, prevLevel := wf.Status, wf.CurrentLevel
	machine := buildLifecycleMachine(domainwf.State(wf.Status))

	next, hasNext := rule.NextMandatoryLevel(wf.CurrentLevel, bypassed)
	trigger := domainwf.TriggerFinalize
	if hasNext {
		trigger = domainwf.TriggerAdvance
	}
	if err := machine.Fire(ctx, trigger); err != nil {
		return nil, &entity.TransitionError{Code: entity.CodeAlreadyFinalized, WorkflowID: wf.ID, Reason: err.Error()}
	}

	wf.Status = machine.State().String()
	if hasNext {
		wf.CurrentLevel = next
	} else {
		completed := e.now()
		wf.CompletedAt = &completed
	}

	eventType := event.TypeWorkflowAdvanced
	if !hasNext {
		eventType = event.TypeWorkflowApproved
	}

	err = e.commitTransition(ctx, wf, prevStatus, prevLevel, &entity.AuditLog{
		Action:      entity.AuditActionApprove,
		EntityType:  entity.EntityWorkflow,
		EntityID:    wf.ID,
		NewValues:   snapshot(wf, map[string]interface{}{"comments": comments, "approved_level": prevLevel}),
		PerformedBy: actorID,
	})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, eventType, wf, map[string]interface{}{
		"actor":          actorID,
		"approved_level": prevLevel,
	})
	return wf, nil
}

// Reject terminates the workflow from any level. A non-empty reason is
// required; any mandatory approval level may reject.
func (e *Engine) Reject(ctx context.Context, workflowID int64, actorID, reason string) (*entity.ApprovalWorkflow, error) {
	if reason == "" {
		return nil, fmt.Errorf("reject requires a non-empty reason")
	}

	wf, rule, err := e.loadActionable(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if err := e.authorizeAnyLevel(ctx, wf, actorID, rule); err != nil {
		return nil, err
	}

	prevStatus, prevLevel := wf.Status, wf.CurrentLevel
	machine := buildLifecycleMachine(domainwf.State(wf.Status))
	if err := machine.Fire(ctx, domainwf.TriggerReject); err != nil {
		return nil, &entity.TransitionError{Code: entity.CodeAlreadyFinalized, WorkflowID: wf.ID, Reason: err.Error()}
	}

	wf.Status = machine.State().String()
	completed := e.now()
	wf.CompletedAt = &completed

	err = e.commitTransition(ctx, wf, prevStatus, prevLevel, &entity.AuditLog{
		Action:      entity.AuditActionReject,
		EntityType:  entity.EntityWorkflow,
		EntityID:    wf.ID,
		NewValues:   snapshot(wf, map[string]interface{}{"reason": reason, "rejected_at_level": prevLevel}),
		PerformedBy: actorID,
	})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, event.TypeWorkflowRejected, wf, map[string]interface{}{
		"actor":  actorID,
		"reason": reason,
	})
	return wf, nil
}

// ApplyOverride removes the override's bypass levels from the workflow's
// remaining chain. Only one override may be active per workflow, it must be
// inside its validity window and amount ceiling, and it can never bypass a
// level whose approval is already recorded.
func (e *Engine) ApplyOverride(ctx context.Context, workflowID int64, overrideType entity.OverrideType, justification, actorID string) (*entity.ApprovalWorkflow, error) {
	wf, rule, err := e.loadActionable(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != entity.StatusPending {
		return nil, &entity.TransitionError{
			Code:       entity.CodeInvalidOverride,
			WorkflowID: wf.ID,
			Reason:     fmt.Sprintf("override requires PENDING status, workflow is %s", wf.Status),
		}
	}
	if wf.OverrideID != nil {
		return nil, &entity.TransitionError{
			Code:       entity.CodeInvalidOverride,
			WorkflowID: wf.ID,
			Reason:     fmt.Sprintf("override %d already applied", *wf.OverrideID),
		}
	}

	override, err := e.overrides.GetActiveByType(ctx, overrideType)
	if err != nil {
		return nil, err
	}
	if override == nil {
		return nil, &entity.TransitionError{
			Code:       entity.CodeInvalidOverride,
			WorkflowID: wf.ID,
			Reason:     fmt.Sprintf("no active override policy of type %s", overrideType),
		}
	}
	if !override.ValidAt(e.now()) {
		return nil, &entity.TransitionError{
			Code:       entity.CodeInvalidOverride,
			WorkflowID: wf.ID,
			Reason:     "override is outside its validity window",
		}
	}
	if !override.AppliesTo(wf.Category, wf.Amount) {
		return nil, &entity.TransitionError{
			Code:       entity.CodeInvalidOverride,
			WorkflowID: wf.ID,
			Reason:     "override does not apply to this category or amount",
		}
	}
	if override.RequireJustification && justification == "" {
		return nil, &entity.TransitionError{
			Code:       entity.CodeInvalidOverride,
			WorkflowID: wf.ID,
			Reason:     "override requires a justification",
		}
	}
	for _, level := range override.BypassLevels {
		if level < wf.CurrentLevel {
			return nil, &entity.TransitionError{
				Code:       entity.CodeInvalidOverride,
				WorkflowID: wf.ID,
				Reason:     fmt.Sprintf("level %d is already approved and cannot be bypassed", level),
			}
		}
	}

	prevStatus, prevLevel := wf.Status, wf.CurrentLevel
	bypassed := override.BypassSet()

	wf.OverrideID = &override.ID
	if justification != "" {
		wf.OverrideJustification = &justification
	}

	next, hasNext := rule.NextMandatoryLevel(wf.CurrentLevel-1, bypassed)
	if hasNext {
		wf.CurrentLevel = next
	} else {
		machine := buildLifecycleMachine(domainwf.State(wf.Status))
		if err := machine.Fire(ctx, domainwf.TriggerFinalize); err != nil {
			return nil, &entity.TransitionError{Code: entity.CodeAlreadyFinalized, WorkflowID: wf.ID, Reason: err.Error()}
		}
		wf.Status = machine.State().String()
		completed := e.now()
		wf.CompletedAt = &completed
	}

	err = e.commitTransition(ctx, wf, prevStatus, prevLevel, &entity.AuditLog{
		Action:      entity.AuditActionApplyOverride,
		EntityType:  entity.EntityWorkflow,
		EntityID:    wf.ID,
		NewValues: snapshot(wf, map[string]interface{}{
			"override_type": overrideType.String(),
			"bypass_levels": override.BypassLevels,
			"justification": justification,
		}),
		PerformedBy: actorID,
	})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, event.TypeOverrideApplied, wf, map[string]interface{}{
		"actor":         actorID,
		"override_type": overrideType.String(),
	})
	return wf, nil
}

// Escalate flags a pending workflow whose current level has exceeded the
// rule's escalation threshold. The level does not change; escalation is a
// compensating notification, not a bypass. Escalating an already-escalated or
// terminal workflow is a no-op so the periodic sweep stays idempotent.
func (e *Engine) Escalate(ctx context.Context, workflowID int64) (*entity.ApprovalWorkflow, error) {
	wf, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, fmt.Errorf("workflow %d not found", workflowID)
	}
	if wf.Status != entity.StatusPending {
		return wf, nil
	}

	prevStatus, prevLevel := wf.Status, wf.CurrentLevel
	machine := buildLifecycleMachine(domainwf.State(wf.Status))
	if err := machine.Fire(ctx, domainwf.TriggerEscalate); err != nil {
		return nil, &entity.TransitionError{Code: entity.CodeAlreadyFinalized, WorkflowID: wf.ID, Reason: err.Error()}
	}
	wf.Status = machine.State().String()

	err = e.commitTransition(ctx, wf, prevStatus, prevLevel, &entity.AuditLog{
		Action:      entity.AuditActionEscalate,
		EntityType:  entity.EntityWorkflow,
		EntityID:    wf.ID,
		NewValues:   snapshot(wf, map[string]interface{}{"escalated_at_level": prevLevel}),
		PerformedBy: "system",
	})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, event.TypeWorkflowEscalated, wf, map[string]interface{}{
		"level": wf.CurrentLevel,
	})
	return wf, nil
}

// loadActionable fetches the workflow and its pinned rule, failing with
// AlreadyFinalized when the workflow is terminal.
func (e *Engine) loadActionable(ctx context.Context, workflowID int64) (*entity.ApprovalWorkflow, *entity.ApprovalRule, error) {
	wf, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}
	if wf == nil {
		return nil, nil, fmt.Errorf("workflow %d not found", workflowID)
	}
	if !domainwf.State(wf.Status).IsValid() {
		return nil, nil, fmt.Errorf("%w: workflow %d has status %q", domainwf.ErrInvalidState, wf.ID, wf.Status)
	}
	if !wf.IsActionable() {
		return nil, nil, &entity.TransitionError{
			Code:       entity.CodeAlreadyFinalized,
			WorkflowID: wf.ID,
			Reason:     fmt.Sprintf("workflow is %s", wf.Status),
		}
	}
	if wf.RuleID == nil {
		return nil, nil, &entity.ConfigurationError{
			Code:       entity.CodeInvalidConfiguration,
			EntityType: entity.EntityWorkflow,
			EntityID:   wf.ID,
			Detail:     "workflow has no resolved rule",
		}
	}
	rule, err := e.rules.GetByID(ctx, *wf.RuleID)
	if err != nil {
		return nil, nil, err
	}
	if rule == nil {
		return nil, nil, &entity.ConfigurationError{
			Code:       entity.CodeInvalidConfiguration,
			EntityType: entity.EntityRule,
			EntityID:   *wf.RuleID,
			Detail:     "rule referenced by workflow not found",
		}
	}
	return wf, rule, nil
}

// authorize validates that the actor can act at the given approver level.
// With delegation, any active role at an equal or higher hierarchy level
// qualifies; otherwise the exact role is required.
func (e *Engine) authorize(ctx context.Context, wf *entity.ApprovalWorkflow, actorID string, approver *entity.RuleApprover) error {
	required, err := e.roles.GetByID(ctx, approver.ApprovalRoleID)
	if err != nil {
		return err
	}
	if required == nil {
		return &entity.ConfigurationError{
			Code:       entity.CodeInvalidConfiguration,
			EntityType: entity.EntityRole,
			EntityID:   approver.ApprovalRoleID,
			Detail:     "approver role not found",
		}
	}

	actorRoles, err := e.identity.GetActorRoles(ctx, actorID)
	if err != nil {
		return fmt.Errorf("failed to resolve roles for actor %s: %w", actorID, err)
	}

	hierarchy, err := e.loadHierarchy(ctx)
	if err != nil {
		return err
	}
	if !hierarchy.AnySatisfies(actorRoles, required.Code, approver.CanDelegate) {
		return &entity.TransitionError{
			Code:       entity.CodeNotAuthorized,
			WorkflowID: wf.ID,
			Reason:     fmt.Sprintf("actor %s does not hold role %s required at level %d", actorID, required.Code, approver.SequenceOrder),
		}
	}
	return nil
}

// authorizeAnyLevel validates that the actor can act at some mandatory level
// of the rule. Used for reject, which any mandatory level may issue.
func (e *Engine) authorizeAnyLevel(ctx context.Context, wf *entity.ApprovalWorkflow, actorID string, rule *entity.ApprovalRule) error {
	var lastErr error
	for _, approver := range rule.Approvers {
		if !approver.IsMandatory {
			continue
		}
		if err := e.authorize(ctx, wf, actorID, approver); err == nil {
			return nil
		} else if lastErr == nil || entity.IsCode(err, entity.CodeNotAuthorized) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return &entity.TransitionError{
		Code:       entity.CodeNotAuthorized,
		WorkflowID: wf.ID,
		Reason:     fmt.Sprintf("actor %s holds no role in the approval chain", actorID),
	}
}

func (e *Engine) loadHierarchy(ctx context.Context) (*entity.Hierarchy, error) {
	roles, err := e.roles.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load role hierarchy: %w", err)
	}
	return entity.NewHierarchy(roles), nil
}

func (e *Engine) bypassSet(ctx context.Context, wf *entity.ApprovalWorkflow) (map[int]bool, error) {
	if wf.OverrideID == nil {
		return nil, nil
	}
	override, err := e.overrides.GetByID(ctx, *wf.OverrideID)
	if err != nil {
		return nil, err
	}
	if override == nil {
		return nil, nil
	}
	return override.BypassSet(), nil
}

// commitTransition persists the workflow change and its audit entry in one
// transaction. The audit entry's OldValues is filled from the pre-transition
// status and level.
func (e *Engine) commitTransition(ctx context.Context, wf *entity.ApprovalWorkflow, prevStatus string, prevLevel int, entry *entity.AuditLog) error {
	prev := *wf
	prev.Status = prevStatus
	prev.CurrentLevel = prevLevel
	prev.CompletedAt = nil
	entry.OldValues = snapshot(&prev, nil)

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.workflows.Update(txCtx, wf, prevStatus, prevLevel); err != nil {
			return err
		}
		return e.audit.Append(txCtx, entry)
	})
	if err != nil {
		e.logger.Warn("Workflow transition failed",
			zap.Int64("workflow_id", wf.ID),
			zap.String("action", entry.Action),
			zap.Error(err))
		return err
	}

	e.logger.Info("Workflow transition committed",
		zap.Int64("workflow_id", wf.ID),
		zap.String("action", entry.Action),
		zap.String("from_status", prevStatus),
		zap.String("to_status", wf.Status),
		zap.Int("from_level", prevLevel),
		zap.Int("to_level", wf.CurrentLevel))
	return nil
}

func (e *Engine) emit(ctx context.Context, eventType event.Type, wf *entity.ApprovalWorkflow, payload map[string]interface{}) {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.DispatchAsync(ctx, event.NewEvent(eventType, wf.ID, wf.ReferenceCode, payload))
}

// snapshot serializes a workflow plus optional context fields for the audit
// trail.
func snapshot(wf *entity.ApprovalWorkflow, extra map[string]interface{}) string {
	payload := map[string]interface{}{"workflow": wf}
	for k, v := range extra {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"marshal_error":%q}`, err.Error())
	}
	return string(data)
}
