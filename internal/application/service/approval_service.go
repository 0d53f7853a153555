package service

import (
	"context"
	"fmt"

	"github.com/procurio/approval-engine/internal/application/engine"
	"github.com/procurio/approval-engine/internal/application/port"
	"github.com/procurio/approval-engine/internal/domain/entity"
	"go.uber.org/zap"
)

// Decision is an approver's verdict on a workflow
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// DecisionPayload carries the optional context of a recorded decision
type DecisionPayload struct {
	Comments string `json:"comments,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ApprovalService is the engine boundary consumed by the document layer:
// submission, decisions, overrides and status queries.
type ApprovalService interface {
	SubmitForApproval(ctx context.Context, doc entity.DocumentRef) (*entity.ApprovalWorkflow, error)
	RecordDecision(ctx context.Context, workflowID int64, actorID string, decision Decision, payload DecisionPayload) (*entity.ApprovalWorkflow, error)
	RequestOverride(ctx context.Context, workflowID int64, overrideType entity.OverrideType, justification, actorID string) (*entity.ApprovalWorkflow, error)
	GetWorkflowStatus(ctx context.Context, category entity.Category, referenceID int64) (*entity.ApprovalWorkflow, error)
	GetWorkflow(ctx context.Context, workflowID int64) (*entity.ApprovalWorkflow, error)
	ListPendingByRole(ctx context.Context, roleCode string, limit int) ([]*entity.ApprovalWorkflow, error)
}

type approvalServiceImpl struct {
	engine    *engine.Engine
	workflows port.WorkflowRepository
	roles     port.RoleRepository
	logger    *zap.Logger
}

// NewApprovalService creates the external approval interface
func NewApprovalService(eng *engine.Engine, workflows port.WorkflowRepository, roles port.RoleRepository, logger *zap.Logger) ApprovalService {
	return &approvalServiceImpl{
		engine:    eng,
		workflows: workflows,
		roles:     roles,
		logger:    logger,
	}
}

func (s *approvalServiceImpl) SubmitForApproval(ctx context.Context, doc entity.DocumentRef) (*entity.ApprovalWorkflow, error) {
	return s.engine.Create(ctx, doc)
}

func (s *approvalServiceImpl) RecordDecision(ctx context.Context, workflowID int64, actorID string, decision Decision, payload DecisionPayload) (*entity.ApprovalWorkflow, error) {
	switch decision {
	case DecisionApprove:
		return s.engine.Approve(ctx, workflowID, actorID, payload.Comments)
	case DecisionReject:
		return s.engine.Reject(ctx, workflowID, actorID, payload.Reason)
	default:
		return nil, fmt.Errorf("unknown decision %q", decision)
	}
}

func (s *approvalServiceImpl) RequestOverride(ctx context.Context, workflowID int64, overrideType entity.OverrideType, justification, actorID string) (*entity.ApprovalWorkflow, error) {
	if !overrideType.IsValid() {
		return nil, fmt.Errorf("unknown override type %q", overrideType)
	}
	return s.engine.ApplyOverride(ctx, workflowID, overrideType, justification, actorID)
}

// GetWorkflowStatus returns the workflow routing a document, or nil when the
// document never entered approval.
func (s *approvalServiceImpl) GetWorkflowStatus(ctx context.Context, category entity.Category, referenceID int64) (*entity.ApprovalWorkflow, error) {
	return s.workflows.GetByReference(ctx, category, referenceID)
}

func (s *approvalServiceImpl) GetWorkflow(ctx context.Context, workflowID int64) (*entity.ApprovalWorkflow, error) {
	return s.workflows.GetByID(ctx, workflowID)
}

// ListPendingByRole returns workflows waiting on a level that the given role
// is required at, newest first.
func (s *approvalServiceImpl) ListPendingByRole(ctx context.Context, roleCode string, limit int) ([]*entity.ApprovalWorkflow, error) {
	role, err := s.roles.GetByCode(ctx, roleCode)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, fmt.Errorf("role %q not found", roleCode)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.workflows.ListPendingByRole(ctx, role.ID, limit)
}
