package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/procurio/approval-engine/internal/application/port"
	"github.com/procurio/approval-engine/internal/domain/entity"
	"github.com/procurio/approval-engine/internal/infrastructure/persistence/sqlite"
)

// RuleRepository implements port.RuleRepository. Rule rows are written once
// and never updated: edits at the service layer insert a successor row and
// deactivate the old one, so workflows pinned to a row keep its meaning.
type RuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *sql.DB, logger *zap.Logger) port.RuleRepository {
	return &RuleRepository{
		db:     db,
		logger: logger,
	}
}

const ruleColumns = `
	id, category, name, min_amount, max_amount, currency, department_id,
	requires_sequential, auto_approve_below, escalation_hours, is_active,
	conditions, version, created_at, updated_at`

// Create inserts a rule row together with its approver chain
func (r *RuleRepository) Create(ctx context.Context, rule *entity.ApprovalRule) error {
	query := `
		INSERT INTO approval_rules (
			category, name, min_amount, max_amount, currency, department_id,
			requires_sequential, auto_approve_below, escalation_hours, is_active,
			conditions, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	conditions, err := marshalNullableMap(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal rule conditions: %w", err)
	}

	now := time.Now()
	exec := sqlite.Executor(ctx, r.db)
	result, err := exec.ExecContext(ctx, query,
		rule.Category,
		rule.Name,
		rule.MinAmount,
		rule.MaxAmount,
		rule.Currency,
		rule.DepartmentID,
		rule.RequiresSequential,
		rule.AutoApproveBelow,
		rule.EscalationHours,
		rule.IsActive,
		conditions,
		rule.Version,
		now,
		now,
	)
	if err != nil {
		r.logger.Error("Failed to create approval rule", zap.String("name", rule.Name), zap.Error(err))
		return fmt.Errorf("failed to create approval rule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rule.ID = id
	rule.CreatedAt = now
	rule.UpdatedAt = now

	approverQuery := `
		INSERT INTO rule_approvers (rule_id, approval_role_id, sequence_order, is_mandatory, can_delegate)
		VALUES (?, ?, ?, ?, ?)
	`
	for _, a := range rule.Approvers {
		a.RuleID = id
		res, err := exec.ExecContext(ctx, approverQuery,
			a.RuleID,
			a.ApprovalRoleID,
			a.SequenceOrder,
			a.IsMandatory,
			a.CanDelegate,
		)
		if err != nil {
			r.logger.Error("Failed to create rule approver",
				zap.Int64("rule_id", id),
				zap.Int("sequence_order", a.SequenceOrder),
				zap.Error(err))
			return fmt.Errorf("failed to create rule approver: %w", err)
		}
		if a.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	}
	return nil
}

// GetByID retrieves a rule row with its approver chain; returns nil when no
// row exists. Inactive rows are still readable so workflows can load the
// exact version they were bound to.
func (r *RuleRepository) GetByID(ctx context.Context, id int64) (*entity.ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules WHERE id = ?`

	rule, err := r.scanRule(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval rule", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval rule: %w", err)
	}

	if err := r.loadApprovers(ctx, []*entity.ApprovalRule{rule}); err != nil {
		return nil, err
	}
	return rule, nil
}

// Deactivate retires a rule row; the row itself is never deleted
func (r *RuleRepository) Deactivate(ctx context.Context, id int64) error {
	query := `UPDATE approval_rules SET is_active = 0, updated_at = ? WHERE id = ?`

	_, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to deactivate approval rule", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to deactivate approval rule: %w", err)
	}
	return nil
}

// ListActiveByScope returns the active rules for one category and currency,
// department-scoped and global alike. The resolver partitions them.
func (r *RuleRepository) ListActiveByScope(ctx context.Context, category entity.Category, currency string) ([]*entity.ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM approval_rules
		WHERE is_active = 1 AND category = ? AND currency = ?
		ORDER BY min_amount, id`
	return r.queryRules(ctx, query, category, currency)
}

// ListActive returns all active rule rows
func (r *RuleRepository) ListActive(ctx context.Context) ([]*entity.ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules WHERE is_active = 1 ORDER BY category, min_amount, id`
	return r.queryRules(ctx, query)
}

// List returns every rule row including superseded versions
func (r *RuleRepository) List(ctx context.Context) ([]*entity.ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules ORDER BY category, min_amount, version, id`
	return r.queryRules(ctx, query)
}

// ReferencedByLiveWorkflow reports whether a non-terminal workflow is bound to the rule row
func (r *RuleRepository) ReferencedByLiveWorkflow(ctx context.Context, id int64) (bool, error) {
	query := `
		SELECT COUNT(1)
		FROM approval_workflows
		WHERE rule_id = ? AND status IN (?, ?)
	`

	var count int
	err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id, entity.StatusPending, entity.StatusEscalated).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to count workflow references", zap.Int64("rule_id", id), zap.Error(err))
		return false, fmt.Errorf("failed to count workflow references: %w", err)
	}
	return count > 0, nil
}

func (r *RuleRepository) queryRules(ctx context.Context, query string, args ...interface{}) ([]*entity.ApprovalRule, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list approval rules", zap.Error(err))
		return nil, fmt.Errorf("failed to list approval rules: %w", err)
	}
	defer rows.Close()

	var rules []*entity.ApprovalRule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadApprovers(ctx, rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *RuleRepository) scanRule(row rowScanner) (*entity.ApprovalRule, error) {
	var rule entity.ApprovalRule
	var conditions sql.NullString

	err := row.Scan(
		&rule.ID,
		&rule.Category,
		&rule.Name,
		&rule.MinAmount,
		&rule.MaxAmount,
		&rule.Currency,
		&rule.DepartmentID,
		&rule.RequiresSequential,
		&rule.AutoApproveBelow,
		&rule.EscalationHours,
		&rule.IsActive,
		&conditions,
		&rule.Version,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if conditions.Valid && conditions.String != "" {
		if err := json.Unmarshal([]byte(conditions.String), &rule.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rule conditions: %w", err)
		}
	}
	return &rule, nil
}

// loadApprovers attaches approver chains to the given rules in one query
func (r *RuleRepository) loadApprovers(ctx context.Context, rules []*entity.ApprovalRule) error {
	if len(rules) == 0 {
		return nil
	}

	byID := make(map[int64]*entity.ApprovalRule, len(rules))
	placeholders := ""
	args := make([]interface{}, 0, len(rules))
	for i, rule := range rules {
		byID[rule.ID] = rule
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, rule.ID)
	}

	query := `
		SELECT id, rule_id, approval_role_id, sequence_order, is_mandatory, can_delegate
		FROM rule_approvers
		WHERE rule_id IN (` + placeholders + `)
		ORDER BY rule_id, sequence_order
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to load rule approvers", zap.Error(err))
		return fmt.Errorf("failed to load rule approvers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a entity.RuleApprover
		if err := rows.Scan(&a.ID, &a.RuleID, &a.ApprovalRoleID, &a.SequenceOrder, &a.IsMandatory, &a.CanDelegate); err != nil {
			return fmt.Errorf("failed to scan rule approver: %w", err)
		}
		if rule, ok := byID[a.RuleID]; ok {
			rule.Approvers = append(rule.Approvers, &a)
		}
	}
	return rows.Err()
}

// Verify interface compliance
var _ port.RuleRepository = (*RuleRepository)(nil)
