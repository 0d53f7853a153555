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

// RoleRepository implements port.RoleRepository
type RoleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *sql.DB, logger *zap.Logger) port.RoleRepository {
	return &RoleRepository{
		db:     db,
		logger: logger,
	}
}

const roleColumns = `id, name, code, hierarchy_level, is_active, permissions, created_at, updated_at`

// Create inserts a new approval role
func (r *RoleRepository) Create(ctx context.Context, role *entity.Role) error {
	query := `
		INSERT INTO approval_roles (name, code, hierarchy_level, is_active, permissions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	permissions, err := marshalNullableMap(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal role permissions: %w", err)
	}

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		role.Name,
		role.Code,
		role.HierarchyLevel,
		role.IsActive,
		permissions,
		now,
		now,
	)
	if err != nil {
		r.logger.Error("Failed to create approval role", zap.String("code", role.Code), zap.Error(err))
		return fmt.Errorf("failed to create approval role: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	role.ID = id
	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetByID retrieves a role by ID; returns nil when no row exists
func (r *RoleRepository) GetByID(ctx context.Context, id int64) (*entity.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM approval_roles WHERE id = ?`

	role, err := r.scanRole(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval role", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval role: %w", err)
	}
	return role, nil
}

// GetByCode retrieves a role by its unique code; returns nil when no row exists
func (r *RoleRepository) GetByCode(ctx context.Context, code string) (*entity.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM approval_roles WHERE code = ?`

	role, err := r.scanRole(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, code))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval role by code", zap.String("code", code), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval role: %w", err)
	}
	return role, nil
}

// Update persists role changes
func (r *RoleRepository) Update(ctx context.Context, role *entity.Role) error {
	query := `
		UPDATE approval_roles
		SET name = ?, code = ?, hierarchy_level = ?, is_active = ?, permissions = ?, updated_at = ?
		WHERE id = ?
	`

	permissions, err := marshalNullableMap(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal role permissions: %w", err)
	}

	now := time.Now()
	_, err = sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		role.Name,
		role.Code,
		role.HierarchyLevel,
		role.IsActive,
		permissions,
		now,
		role.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update approval role", zap.Int64("id", role.ID), zap.Error(err))
		return fmt.Errorf("failed to update approval role: %w", err)
	}
	role.UpdatedAt = now
	return nil
}

// Deactivate marks a role inactive without removing it
func (r *RoleRepository) Deactivate(ctx context.Context, id int64) error {
	query := `UPDATE approval_roles SET is_active = 0, updated_at = ? WHERE id = ?`

	_, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to deactivate approval role", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to deactivate approval role: %w", err)
	}
	return nil
}

// ListActive returns active roles ordered by hierarchy level
func (r *RoleRepository) ListActive(ctx context.Context) ([]*entity.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM approval_roles WHERE is_active = 1 ORDER BY hierarchy_level, id`
	return r.queryRoles(ctx, query)
}

// List returns all roles, active and inactive
func (r *RoleRepository) List(ctx context.Context) ([]*entity.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM approval_roles ORDER BY hierarchy_level, id`
	return r.queryRoles(ctx, query)
}

// ReferencedByRule reports whether any active rule's approver chain includes the role
func (r *RoleRepository) ReferencedByRule(ctx context.Context, id int64) (bool, error) {
	query := `
		SELECT COUNT(1)
		FROM rule_approvers ra
		JOIN approval_rules ar ON ar.id = ra.rule_id
		WHERE ra.approval_role_id = ? AND ar.is_active = 1
	`

	var count int
	err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to count rule references", zap.Int64("role_id", id), zap.Error(err))
		return false, fmt.Errorf("failed to count rule references: %w", err)
	}
	return count > 0, nil
}

func (r *RoleRepository) queryRoles(ctx context.Context, query string, args ...interface{}) ([]*entity.Role, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list approval roles", zap.Error(err))
		return nil, fmt.Errorf("failed to list approval roles: %w", err)
	}
	defer rows.Close()

	var roles []*entity.Role
	for rows.Next() {
		role, err := r.scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *RoleRepository) scanRole(row rowScanner) (*entity.Role, error) {
	var role entity.Role
	var permissions sql.NullString

	err := row.Scan(
		&role.ID,
		&role.Name,
		&role.Code,
		&role.HierarchyLevel,
		&role.IsActive,
		&permissions,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if permissions.Valid && permissions.String != "" {
		if err := json.Unmarshal([]byte(permissions.String), &role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal role permissions: %w", err)
		}
	}
	return &role, nil
}

// marshalNullableMap serializes a string map to JSON, storing NULL for an
// empty map so the column stays queryable.
func marshalNullableMap(m map[string]string) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Verify interface compliance
var _ port.RoleRepository = (*RoleRepository)(nil)
