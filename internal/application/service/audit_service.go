package service

import (
	"context"
	"fmt"

	"github.com/procurio/approval-engine/internal/application/port"
	"github.com/procurio/approval-engine/internal/domain/entity"
)

const defaultAuditLimit = 100

// AuditService queries the append-only audit trail
type AuditService interface {
	// ListAuditLogs returns entries newest first, optionally filtered by
	// entity type. A non-positive limit applies the default.
	ListAuditLogs(ctx context.Context, entityType string, limit int) ([]*entity.AuditLog, error)

	// History returns the full trail for one entity, newest first.
	History(ctx context.Context, entityType string, entityID int64) ([]*entity.AuditLog, error)
}

type auditServiceImpl struct {
	audit port.AuditRepository
}

// NewAuditService creates an audit query service
func NewAuditService(audit port.AuditRepository) AuditService {
	return &auditServiceImpl{audit: audit}
}

func (s *auditServiceImpl) ListAuditLogs(ctx context.Context, entityType string, limit int) ([]*entity.AuditLog, error) {
	if entityType != "" && !isAuditEntityType(entityType) {
		return nil, fmt.Errorf("unknown audit entity type %q", entityType)
	}
	if limit <= 0 || limit > 1000 {
		limit = defaultAuditLimit
	}
	return s.audit.List(ctx, entityType, limit)
}

func (s *auditServiceImpl) History(ctx context.Context, entityType string, entityID int64) ([]*entity.AuditLog, error) {
	if !isAuditEntityType(entityType) {
		return nil, fmt.Errorf("unknown audit entity type %q", entityType)
	}
	return s.audit.ListByEntity(ctx, entityType, entityID)
}

func isAuditEntityType(t string) bool {
	switch t {
	case entity.EntityRole, entity.EntityRule, entity.EntityOverride, entity.EntityWorkflow, entity.EntityMatrix:
		return true
	}
	return false
}
