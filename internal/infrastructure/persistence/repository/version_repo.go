package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/procurio/approval-engine/internal/application/port"
	"github.com/procurio/approval-engine/internal/domain/entity"
	"github.com/procurio/approval-engine/internal/infrastructure/persistence/sqlite"
)

// VersionRepository implements port.VersionRepository
type VersionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewVersionRepository creates a new matrix version repository
func NewVersionRepository(db *sql.DB, logger *zap.Logger) port.VersionRepository {
	return &VersionRepository{
		db:     db,
		logger: logger,
	}
}

// Append writes a new matrix version snapshot. The unique index on
// version_number rejects a duplicate from a concurrent writer; that
// collision surfaces as CONCURRENT_MODIFICATION so the caller can retry.
func (r *VersionRepository) Append(ctx context.Context, version *entity.MatrixVersion) error {
	query := `
		INSERT INTO approval_matrix_versions (version_number, snapshot, change_summary, changed_by, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	now := time.Now()
	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		version.VersionNumber,
		version.Snapshot,
		version.ChangeSummary,
		version.ChangedBy,
		now,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return &entity.ConfigurationError{
				Code:       entity.CodeConcurrentModification,
				EntityType: entity.EntityMatrix,
				EntityID:   int64(version.VersionNumber),
				Detail:     "matrix version was written by a concurrent edit",
			}
		}
		r.logger.Error("Failed to append matrix version",
			zap.Int("version_number", version.VersionNumber),
			zap.Error(err))
		return fmt.Errorf("failed to append matrix version: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	version.ID = id
	version.CreatedAt = now
	return nil
}

// Latest returns the newest version snapshot; returns nil when none exists
func (r *VersionRepository) Latest(ctx context.Context) (*entity.MatrixVersion, error) {
	query := `
		SELECT id, version_number, snapshot, change_summary, changed_by, created_at
		FROM approval_matrix_versions
		ORDER BY version_number DESC LIMIT 1
	`

	var v entity.MatrixVersion
	err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query).Scan(
		&v.ID, &v.VersionNumber, &v.Snapshot, &v.ChangeSummary, &v.ChangedBy, &v.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get latest matrix version", zap.Error(err))
		return nil, fmt.Errorf("failed to get latest matrix version: %w", err)
	}
	return &v, nil
}

// List returns version snapshots, newest first
func (r *VersionRepository) List(ctx context.Context, limit int) ([]*entity.MatrixVersion, error) {
	query := `
		SELECT id, version_number, snapshot, change_summary, changed_by, created_at
		FROM approval_matrix_versions
		ORDER BY version_number DESC LIMIT ?
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to list matrix versions", zap.Error(err))
		return nil, fmt.Errorf("failed to list matrix versions: %w", err)
	}
	defer rows.Close()

	var versions []*entity.MatrixVersion
	for rows.Next() {
		var v entity.MatrixVersion
		if err := rows.Scan(&v.ID, &v.VersionNumber, &v.Snapshot, &v.ChangeSummary, &v.ChangedBy, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan matrix version: %w", err)
		}
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

// Verify interface compliance
var _ port.VersionRepository = (*VersionRepository)(nil)
