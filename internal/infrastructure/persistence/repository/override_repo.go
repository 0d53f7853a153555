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

// OverrideRepository implements port.OverrideRepository
type OverrideRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOverrideRepository creates a new override repository
func NewOverrideRepository(db *sql.DB, logger *zap.Logger) port.OverrideRepository {
	return &OverrideRepository{
		db:     db,
		logger: logger,
	}
}

const overrideColumns = `
	id, override_type, category, conditions, bypass_levels, require_justification,
	max_amount, valid_from, valid_until, is_active, created_at, updated_at`

// Create inserts a new override policy
func (r *OverrideRepository) Create(ctx context.Context, override *entity.ApprovalOverride) error {
	query := `
		INSERT INTO approval_overrides (
			override_type, category, conditions, bypass_levels, require_justification,
			max_amount, valid_from, valid_until, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	conditions, err := marshalNullableMap(override.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal override conditions: %w", err)
	}
	bypass, err := json.Marshal(override.BypassLevels)
	if err != nil {
		return fmt.Errorf("failed to marshal bypass levels: %w", err)
	}

	now := time.Now()
	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		override.OverrideType,
		categoryArg(override.Category),
		conditions,
		string(bypass),
		override.RequireJustification,
		override.MaxAmount,
		override.ValidFrom,
		override.ValidUntil,
		override.IsActive,
		now,
		now,
	)
	if err != nil {
		r.logger.Error("Failed to create approval override",
			zap.String("override_type", string(override.OverrideType)),
			zap.Error(err))
		return fmt.Errorf("failed to create approval override: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	override.ID = id
	override.CreatedAt = now
	override.UpdatedAt = now
	return nil
}

// GetByID retrieves an override by ID; returns nil when no row exists
func (r *OverrideRepository) GetByID(ctx context.Context, id int64) (*entity.ApprovalOverride, error) {
	query := `SELECT ` + overrideColumns + ` FROM approval_overrides WHERE id = ?`

	override, err := r.scanOverride(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval override", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval override: %w", err)
	}
	return override, nil
}

// GetActiveByType retrieves the active override policy of the given type;
// returns nil when none exists
func (r *OverrideRepository) GetActiveByType(ctx context.Context, overrideType entity.OverrideType) (*entity.ApprovalOverride, error) {
	query := `SELECT ` + overrideColumns + ` FROM approval_overrides WHERE override_type = ? AND is_active = 1 LIMIT 1`

	override, err := r.scanOverride(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, overrideType))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get active override",
			zap.String("override_type", string(overrideType)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get active override: %w", err)
	}
	return override, nil
}

// Update persists override changes
func (r *OverrideRepository) Update(ctx context.Context, override *entity.ApprovalOverride) error {
	query := `
		UPDATE approval_overrides
		SET override_type = ?, category = ?, conditions = ?, bypass_levels = ?,
			require_justification = ?, max_amount = ?, valid_from = ?, valid_until = ?,
			is_active = ?, updated_at = ?
		WHERE id = ?
	`

	conditions, err := marshalNullableMap(override.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal override conditions: %w", err)
	}
	bypass, err := json.Marshal(override.BypassLevels)
	if err != nil {
		return fmt.Errorf("failed to marshal bypass levels: %w", err)
	}

	now := time.Now()
	_, err = sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		override.OverrideType,
		categoryArg(override.Category),
		conditions,
		string(bypass),
		override.RequireJustification,
		override.MaxAmount,
		override.ValidFrom,
		override.ValidUntil,
		override.IsActive,
		now,
		override.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update approval override", zap.Int64("id", override.ID), zap.Error(err))
		return fmt.Errorf("failed to update approval override: %w", err)
	}
	override.UpdatedAt = now
	return nil
}

// Deactivate marks an override inactive
func (r *OverrideRepository) Deactivate(ctx context.Context, id int64) error {
	query := `UPDATE approval_overrides SET is_active = 0, updated_at = ? WHERE id = ?`

	_, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to deactivate approval override", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to deactivate approval override: %w", err)
	}
	return nil
}

// ListActive returns active override policies
func (r *OverrideRepository) ListActive(ctx context.Context) ([]*entity.ApprovalOverride, error) {
	query := `SELECT ` + overrideColumns + ` FROM approval_overrides WHERE is_active = 1 ORDER BY id`
	return r.queryOverrides(ctx, query)
}

// List returns all override policies
func (r *OverrideRepository) List(ctx context.Context) ([]*entity.ApprovalOverride, error) {
	query := `SELECT ` + overrideColumns + ` FROM approval_overrides ORDER BY id`
	return r.queryOverrides(ctx, query)
}

func (r *OverrideRepository) queryOverrides(ctx context.Context, query string, args ...interface{}) ([]*entity.ApprovalOverride, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list approval overrides", zap.Error(err))
		return nil, fmt.Errorf("failed to list approval overrides: %w", err)
	}
	defer rows.Close()

	var overrides []*entity.ApprovalOverride
	for rows.Next() {
		override, err := r.scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval override: %w", err)
		}
		overrides = append(overrides, override)
	}
	return overrides, rows.Err()
}

func (r *OverrideRepository) scanOverride(row rowScanner) (*entity.ApprovalOverride, error) {
	var override entity.ApprovalOverride
	var category sql.NullString
	var conditions sql.NullString
	var bypass string

	err := row.Scan(
		&override.ID,
		&override.OverrideType,
		&category,
		&conditions,
		&bypass,
		&override.RequireJustification,
		&override.MaxAmount,
		&override.ValidFrom,
		&override.ValidUntil,
		&override.IsActive,
		&override.CreatedAt,
		&override.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if category.Valid && category.String != "" {
		c := entity.Category(category.String)
		override.Category = &c
	}
	if conditions.Valid && conditions.String != "" {
		if err := json.Unmarshal([]byte(conditions.String), &override.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal override conditions: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(bypass), &override.BypassLevels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bypass levels: %w", err)
	}
	return &override, nil
}

func categoryArg(c *entity.Category) interface{} {
	if c == nil {
		return nil
	}
	return string(*c)
}

// Verify interface compliance
var _ port.OverrideRepository = (*OverrideRepository)(nil)
