package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/procurio/approval-engine/internal/application/port"
	"github.com/procurio/approval-engine/internal/domain/entity"
	"github.com/procurio/approval-engine/internal/infrastructure/persistence/sqlite"
)

// WorkflowRepository implements port.WorkflowRepository
type WorkflowRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sql.DB, logger *zap.Logger) port.WorkflowRepository {
	return &WorkflowRepository{
		db:     db,
		logger: logger,
	}
}

const workflowColumns = `
	id, category, reference_id, reference_code, amount, currency, rule_id,
	rule_version, current_level, status, override_id, override_justification,
	initiated_by, completed_at, created_at, updated_at`

// Create inserts a new workflow instance
func (r *WorkflowRepository) Create(ctx context.Context, wf *entity.ApprovalWorkflow) error {
	query := `
		INSERT INTO approval_workflows (
			category, reference_id, reference_code, amount, currency, rule_id,
			rule_version, current_level, status, override_id, override_justification,
			initiated_by, completed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		wf.Category,
		wf.ReferenceID,
		wf.ReferenceCode,
		wf.Amount,
		wf.Currency,
		wf.RuleID,
		wf.RuleVersion,
		wf.CurrentLevel,
		wf.Status,
		wf.OverrideID,
		wf.OverrideJustification,
		wf.InitiatedBy,
		wf.CompletedAt,
		now,
		now,
	)
	if err != nil {
		r.logger.Error("Failed to create workflow",
			zap.String("category", wf.Category.String()),
			zap.Int64("reference_id", wf.ReferenceID),
			zap.Error(err))
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	wf.ID = id
	wf.CreatedAt = now
	wf.UpdatedAt = now
	return nil
}

// GetByID retrieves a workflow by ID; returns nil when no row exists
func (r *WorkflowRepository) GetByID(ctx context.Context, id int64) (*entity.ApprovalWorkflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM approval_workflows WHERE id = ?`

	wf, err := r.scanWorkflow(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return wf, nil
}

// GetByReference retrieves the most recent workflow for a business document
func (r *WorkflowRepository) GetByReference(ctx context.Context, category entity.Category, referenceID int64) (*entity.ApprovalWorkflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM approval_workflows
		WHERE category = ? AND reference_id = ?
		ORDER BY id DESC LIMIT 1`

	wf, err := r.scanWorkflow(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, category, referenceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow by reference",
			zap.String("category", category.String()),
			zap.Int64("reference_id", referenceID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return wf, nil
}

// Update persists a transition with optimistic concurrency: the row must
// still carry the status and current_level the caller read. A zero-row
// update means another transition won the race.
func (r *WorkflowRepository) Update(ctx context.Context, wf *entity.ApprovalWorkflow, expectedStatus string, expectedLevel int) error {
	query := `
		UPDATE approval_workflows
		SET current_level = ?, status = ?, override_id = ?, override_justification = ?,
			completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND current_level = ?
	`

	now := time.Now()
	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		wf.CurrentLevel,
		wf.Status,
		wf.OverrideID,
		wf.OverrideJustification,
		wf.CompletedAt,
		now,
		wf.ID,
		expectedStatus,
		expectedLevel,
	)
	if err != nil {
		r.logger.Error("Failed to update workflow", zap.Int64("id", wf.ID), zap.Error(err))
		return fmt.Errorf("failed to update workflow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &entity.TransitionError{
			Code:       entity.CodeConcurrentModification,
			WorkflowID: wf.ID,
			Reason:     "workflow was modified by a concurrent transition",
		}
	}
	wf.UpdatedAt = now
	return nil
}

// ListByStatus returns workflows in the given status, oldest first
func (r *WorkflowRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*entity.ApprovalWorkflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM approval_workflows
		WHERE status = ?
		ORDER BY updated_at, id
		LIMIT ?`
	return r.queryWorkflows(ctx, query, status, limit)
}

// ListPendingByRole returns pending workflows whose current level is assigned
// to the given role
func (r *WorkflowRepository) ListPendingByRole(ctx context.Context, roleID int64, limit int) ([]*entity.ApprovalWorkflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM approval_workflows w
		WHERE w.status = ?
		  AND EXISTS (
			SELECT 1 FROM rule_approvers ra
			WHERE ra.rule_id = w.rule_id
			  AND ra.sequence_order = w.current_level
			  AND ra.approval_role_id = ?
		  )
		ORDER BY w.created_at, w.id
		LIMIT ?`
	return r.queryWorkflows(ctx, query, entity.StatusPending, roleID, limit)
}

func (r *WorkflowRepository) queryWorkflows(ctx context.Context, query string, args ...interface{}) ([]*entity.ApprovalWorkflow, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list workflows", zap.Error(err))
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*entity.ApprovalWorkflow
	for rows.Next() {
		wf, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (r *WorkflowRepository) scanWorkflow(row rowScanner) (*entity.ApprovalWorkflow, error) {
	var wf entity.ApprovalWorkflow
	err := row.Scan(
		&wf.ID,
		&wf.Category,
		&wf.ReferenceID,
		&wf.ReferenceCode,
		&wf.Amount,
		&wf.Currency,
		&wf.RuleID,
		&wf.RuleVersion,
		&wf.CurrentLevel,
		&wf.Status,
		&wf.OverrideID,
		&wf.OverrideJustification,
		&wf.InitiatedBy,
		&wf.CompletedAt,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

// Verify interface compliance
var _ port.WorkflowRepository = (*WorkflowRepository)(nil)
