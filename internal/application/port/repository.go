package port

import (
	"context"

	"github.com/procurio/approval-engine/internal/domain/entity"
)

// RoleRepository defines persistence operations for approval roles
type RoleRepository interface {
	Create(ctx context.Context, role *entity.Role) error
	GetByID(ctx context.Context, id int64) (*entity.Role, error)
	GetByCode(ctx context.Context, code string) (*entity.Role, error)
	Update(ctx context.Context, role *entity.Role) error
	Deactivate(ctx context.Context, id int64) error
	ListActive(ctx context.Context) ([]*entity.Role, error)
	List(ctx context.Context) ([]*entity.Role, error)
	// ReferencedByRule reports whether any rule approver points at the role.
	ReferencedByRule(ctx context.Context, id int64) (bool, error)
}

// RuleRepository defines persistence operations for approval rules. Rule rows
// are immutable once referenced by a workflow: edits insert a new row with a
// bumped version and deactivate the old one.
type RuleRepository interface {
	Create(ctx context.Context, rule *entity.ApprovalRule) error
	GetByID(ctx context.Context, id int64) (*entity.ApprovalRule, error)
	Deactivate(ctx context.Context, id int64) error
	ListActiveByScope(ctx context.Context, category entity.Category, currency string) ([]*entity.ApprovalRule, error)
	ListActive(ctx context.Context) ([]*entity.ApprovalRule, error)
	List(ctx context.Context) ([]*entity.ApprovalRule, error)
	// ReferencedByLiveWorkflow reports whether any non-terminal workflow is
	// bound to the rule row.
	ReferencedByLiveWorkflow(ctx context.Context, id int64) (bool, error)
}

// OverrideRepository defines persistence operations for override policies
type OverrideRepository interface {
	Create(ctx context.Context, override *entity.ApprovalOverride) error
	GetByID(ctx context.Context, id int64) (*entity.ApprovalOverride, error)
	GetActiveByType(ctx context.Context, overrideType entity.OverrideType) (*entity.ApprovalOverride, error)
	Update(ctx context.Context, override *entity.ApprovalOverride) error
	Deactivate(ctx context.Context, id int64) error
	ListActive(ctx context.Context) ([]*entity.ApprovalOverride, error)
	List(ctx context.Context) ([]*entity.ApprovalOverride, error)
}

// WorkflowRepository defines persistence operations for workflow instances.
// Update applies optimistic concurrency: the write matches the previously
// read status and current_level and reports a conflict when no row matched.
type WorkflowRepository interface {
	Create(ctx context.Context, wf *entity.ApprovalWorkflow) error
	GetByID(ctx context.Context, id int64) (*entity.ApprovalWorkflow, error)
	GetByReference(ctx context.Context, category entity.Category, referenceID int64) (*entity.ApprovalWorkflow, error)
	// Update persists status/current_level/override/completion changes.
	// expectedStatus and expectedLevel are the values read before the
	// transition; a zero-row update surfaces CodeConcurrentModification.
	Update(ctx context.Context, wf *entity.ApprovalWorkflow, expectedStatus string, expectedLevel int) error
	ListByStatus(ctx context.Context, status string, limit int) ([]*entity.ApprovalWorkflow, error)
	ListPendingByRole(ctx context.Context, roleID int64, limit int) ([]*entity.ApprovalWorkflow, error)
}

// AuditRepository defines append-only persistence for audit entries
type AuditRepository interface {
	Append(ctx context.Context, entry *entity.AuditLog) error
	List(ctx context.Context, entityType string, limit int) ([]*entity.AuditLog, error)
	ListByEntity(ctx context.Context, entityType string, entityID int64) ([]*entity.AuditLog, error)
}

// VersionRepository defines persistence for matrix version snapshots
type VersionRepository interface {
	Append(ctx context.Context, version *entity.MatrixVersion) error
	Latest(ctx context.Context) (*entity.MatrixVersion, error)
	List(ctx context.Context, limit int) ([]*entity.MatrixVersion, error)
}

// TransactionManager runs a function inside a database transaction; all
// repository calls made with the returned context join the transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(txCtx context.Context) error) error
}

// IdentityDirectory resolves the approval role codes an actor holds. User and
// session management live outside the engine; this is the boundary.
type IdentityDirectory interface {
	GetActorRoles(ctx context.Context, actorID string) ([]string, error)
}
