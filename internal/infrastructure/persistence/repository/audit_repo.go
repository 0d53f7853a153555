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

// AuditRepository implements port.AuditRepository. The table is append-only;
// no update or delete statement exists in this package.
type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB, logger *zap.Logger) port.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Append writes one audit entry
func (r *AuditRepository) Append(ctx context.Context, entry *entity.AuditLog) error {
	query := `
		INSERT INTO approval_audit_logs (action, entity_type, entity_id, old_values, new_values, performed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		entry.Action,
		entry.EntityType,
		entry.EntityID,
		nullableString(entry.OldValues),
		nullableString(entry.NewValues),
		entry.PerformedBy,
		now,
	)
	if err != nil {
		r.logger.Error("Failed to append audit entry",
			zap.String("action", entry.Action),
			zap.String("entity_type", entry.EntityType),
			zap.Error(err))
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	entry.CreatedAt = now
	return nil
}

// List returns recent audit entries, newest first, optionally filtered by entity type
func (r *AuditRepository) List(ctx context.Context, entityType string, limit int) ([]*entity.AuditLog, error) {
	query := `
		SELECT id, action, entity_type, entity_id, old_values, new_values, performed_by, created_at
		FROM approval_audit_logs
	`
	var args []interface{}
	if entityType != "" {
		query += ` WHERE entity_type = ?`
		args = append(args, entityType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	return r.queryEntries(ctx, query, args...)
}

// ListByEntity returns the full history of one entity, newest first
func (r *AuditRepository) ListByEntity(ctx context.Context, entityType string, entityID int64) ([]*entity.AuditLog, error) {
	query := `
		SELECT id, action, entity_type, entity_id, old_values, new_values, performed_by, created_at
		FROM approval_audit_logs
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY id DESC
	`
	return r.queryEntries(ctx, query, entityType, entityID)
}

func (r *AuditRepository) queryEntries(ctx context.Context, query string, args ...interface{}) ([]*entity.AuditLog, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list audit entries", zap.Error(err))
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*entity.AuditLog
	for rows.Next() {
		var e entity.AuditLog
		var oldValues, newValues sql.NullString
		err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &e.EntityID, &oldValues, &newValues, &e.PerformedBy, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.OldValues = oldValues.String
		e.NewValues = newValues.String
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Verify interface compliance
var _ port.AuditRepository = (*AuditRepository)(nil)
