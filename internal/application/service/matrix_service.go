package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/procurio/approval-engine/internal/application/port"
	"github.com/procurio/approval-engine/internal/domain/entity"
	"go.uber.org/zap"
)

// MatrixService administers the approval matrix: roles, rules and overrides.
// Every accepted edit writes a new immutable matrix version snapshot and an
// audit entry in the same transaction. Band overlap and duplicate sequence
// orders are rejected at save time, never deferred to resolution.
type MatrixService interface {
	// Roles
	CreateRole(ctx context.Context, role *entity.Role, actor string) (*entity.Role, error)
	UpdateRole(ctx context.Context, role *entity.Role, actor string) (*entity.Role, error)
	DeactivateRole(ctx context.Context, id int64, actor string) error
	ListRoles(ctx context.Context) ([]*entity.Role, error)

	// Rules. SaveRule creates a new rule when rule.ID is zero; otherwise it
	// supersedes the existing row with a new version, leaving in-flight
	// workflows bound to the row they resolved against.
	SaveRule(ctx context.Context, rule *entity.ApprovalRule, actor string) (*entity.ApprovalRule, error)
	DeactivateRule(ctx context.Context, id int64, actor string) error
	ListRules(ctx context.Context) ([]*entity.ApprovalRule, error)

	// Overrides
	SaveOverride(ctx context.Context, override *entity.ApprovalOverride, actor string) (*entity.ApprovalOverride, error)
	DeactivateOverride(ctx context.Context, id int64, actor string) error
	ListOverrides(ctx context.Context) ([]*entity.ApprovalOverride, error)

	// BuildSnapshot assembles the current active matrix configuration.
	BuildSnapshot(ctx context.Context) (*entity.MatrixSnapshot, error)
	ListVersions(ctx context.Context, limit int) ([]*entity.MatrixVersion, error)
}

type matrixServiceImpl struct {
	roles     port.RoleRepository
	rules     port.RuleRepository
	overrides port.OverrideRepository
	versions  port.VersionRepository
	audit     port.AuditRepository
	txManager port.TransactionManager
	logger    *zap.Logger

	// serializes edits per (category, currency, department) scope so two
	// concurrent saves cannot produce overlapping active bands
	scopeMu sync.Mutex
	scopes  map[string]*sync.Mutex
}

// NewMatrixService creates a matrix administration service
func NewMatrixService(
	roles port.RoleRepository,
	rules port.RuleRepository,
	overrides port.OverrideRepository,
	versions port.VersionRepository,
	audit port.AuditRepository,
	txManager port.TransactionManager,
	logger *zap.Logger,
) MatrixService {
	return &matrixServiceImpl{
		roles:     roles,
		rules:     rules,
		overrides: overrides,
		versions:  versions,
		audit:     audit,
		txManager: txManager,
		logger:    logger,
		scopes:    make(map[string]*sync.Mutex),
	}
}

// ── Roles ────────────────────────────────────────────────────────────────────

func (s *matrixServiceImpl) CreateRole(ctx context.Context, role *entity.Role, actor string) (*entity.Role, error) {
	if err := validateRole(role); err != nil {
		return nil, err
	}
	if existing, err := s.roles.GetByCode(ctx, role.Code); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, &entity.ConfigurationError{
			Code:       entity.CodeInvalidConfiguration,
			EntityType: entity.EntityRole,
			ConflictID: existing.ID,
			Detail:     fmt.Sprintf("role code %q already exists", role.Code),
		}
	}

	role.IsActive = true
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.roles.Create(txCtx, role); err != nil {
			return err
		}
		if err := s.appendAudit(txCtx, entity.AuditActionCreate, entity.EntityRole, role.ID, nil, role, actor); err != nil {
			return err
		}
		return s.writeVersion(txCtx, fmt.Sprintf("role %q created", role.Code), actor)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Role created", zap.Int64("role_id", role.ID), zap.String("code", role.Code))
	return role, nil
}

func (s *matrixServiceImpl) UpdateRole(ctx context.Context, role *entity.Role, actor string) (*entity.Role, error) {
	if err := validateRole(role); err != nil {
		return nil, err
	}
	existing, err := s.roles.GetByID(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("role %d not found", role.ID)
	}
	if existing.Code != role.Code {
		referenced, err := s.roles.ReferencedByRule(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		if referenced {
			return nil, &entity.ConfigurationError{
				Code:       entity.CodeEntityInUse,
				EntityType: entity.EntityRole,
				EntityID:   role.ID,
				Detail:     "cannot change the code of a role referenced by a rule",
			}
		}
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.roles.Update(txCtx, role); err != nil {
			return err
		}
		if err := s.appendAudit(txCtx, entity.AuditActionUpdate, entity.EntityRole, role.ID, existing, role, actor); err != nil {
			return err
		}
		return s.writeVersion(txCtx, fmt.Sprintf("role %q updated", role.Code), actor)
	})
	if err != nil {
		return nil, err
	}
	return role, nil
}

func (s *matrixServiceImpl) DeactivateRole(ctx context.Context, id int64, actor string) error {
	existing, err := s.roles.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("role %d not found", id)
	}

	referenced, err := s.roles.ReferencedByRule(ctx, id)
	if err != nil {
		return err
	}
	if referenced {
		return &entity.ConfigurationError{
			Code:       entity.CodeEntityInUse,
			EntityType: entity.EntityRole,
			EntityID:   id,
			Detail:     "role is referenced by an active rule",
		}
	}

	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.roles.Deactivate(txCtx, id); err != nil {
			return err
		}
		if err := s.appendAudit(txCtx, entity.AuditActionDeactivate, entity.EntityRole, id, existing, nil, actor); err != nil {
			return err
		}
		return s.writeVersion(txCtx, fmt.Sprintf("role %q deactivated", existing.Code), actor)
	})
}

func (s *matrixServiceImpl) ListRoles(ctx context.Context) ([]*entity.Role, error) {
	return s.roles.List(ctx)
}

// ── Rules ────────────────────────────────────────────────────────────────────

func (s *matrixServiceImpl) SaveRule(ctx context.Context, rule *entity.ApprovalRule, actor string) (*entity.ApprovalRule, error) {
	if err := s.validateRule(ctx, rule); err != nil {
		return nil, err
	}

	unlock := s.lockScope(rule)
	defer unlock()

	var previous *entity.ApprovalRule
	if rule.ID != 0 {
		var err error
		previous, err = s.rules.GetByID(ctx, rule.ID)
		if err != nil {
			return nil, err
		}
		if previous == nil {
			return nil, fmt.Errorf("rule %d not found", rule.ID)
		}
	}

	if err := s.checkBandOverlap(ctx, rule, previous); err != nil {
		return nil, err
	}

	// Edits never mutate a rule row in place: the old row is deactivated and
	// a successor row is inserted with a bumped version, so workflows pinned
	// to the old row keep their original meaning.
	successor := *rule
	successor.ID = 0
	successor.IsActive = true
	successor.Version = 1
	if previous != nil {
		successor.Version = previous.Version + 1
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if previous != nil {
			if err := s.rules.Deactivate(txCtx, previous.ID); err != nil {
				return err
			}
		}
		if err := s.rules.Create(txCtx, &successor); err != nil {
			return err
		}
		action := entity.AuditActionCreate
		if previous != nil {
			action = entity.AuditActionUpdate
		}
		if err := s.appendAudit(txCtx, action, entity.EntityRule, successor.ID, previous, &successor, actor); err != nil {
			return err
		}
		return s.writeVersion(txCtx, fmt.Sprintf("rule %q v%d saved", successor.Name, successor.Version), actor)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Rule saved",
		zap.Int64("rule_id", successor.ID),
		zap.Int("version", successor.Version),
		zap.String("category", successor.Category.String()))
	return &successor, nil
}

func (s *matrixServiceImpl) DeactivateRule(ctx context.Context, id int64, actor string) error {
	existing, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("rule %d not found", id)
	}

	inUse, err := s.rules.ReferencedByLiveWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if inUse {
		return &entity.ConfigurationError{
			Code:       entity.CodeEntityInUse,
			EntityType: entity.EntityRule,
			EntityID:   id,
			Detail:     "rule is referenced by a non-terminal workflow",
		}
	}

	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.rules.Deactivate(txCtx, id); err != nil {
			return err
		}
		if err := s.appendAudit(txCtx, entity.AuditActionDeactivate, entity.EntityRule, id, existing, nil, actor); err != nil {
			return err
		}
		return s.writeVersion(txCtx, fmt.Sprintf("rule %q deactivated", existing.Name), actor)
	})
}

func (s *matrixServiceImpl) ListRules(ctx context.Context) ([]*entity.ApprovalRule, error) {
	return s.rules.List(ctx)
}

// ── Overrides ────────────────────────────────────────────────────────────────

func (s *matrixServiceImpl) SaveOverride(ctx context.Context, override *entity.ApprovalOverride, actor string) (*entity.ApprovalOverride, error) {
	if err := validateOverride(override); err != nil {
		return nil, err
	}

	var previous *entity.ApprovalOverride
	if override.ID != 0 {
		var err error
		previous, err = s.overrides.GetByID(ctx, override.ID)
		if err != nil {
			return nil, err
		}
		if previous == nil {
			return nil, fmt.Errorf("override %d not found", override.ID)
		}
	}

	override.IsActive = true
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		action := entity.AuditActionUpdate
		if previous == nil {
			action = entity.AuditActionCreate
			if err := s.overrides.Create(txCtx, override); err != nil {
				return err
			}
		} else {
			if err := s.overrides.Update(txCtx, override); err != nil {
				return err
			}
		}
		if err := s.appendAudit(txCtx, action, entity.EntityOverride, override.ID, previous, override, actor); err != nil {
			return err
		}
		return s.writeVersion(txCtx, fmt.Sprintf("override %s saved", override.OverrideType), actor)
	})
	if err != nil {
		return nil, err
	}
	return override, nil
}

func (s *matrixServiceImpl) DeactivateOverride(ctx context.Context, id int64, actor string) error {
	existing, err := s.overrides.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("override %d not found", id)
	}
	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.overrides.Deactivate(txCtx, id); err != nil {
			return err
		}
		if err := s.appendAudit(txCtx, entity.AuditActionDeactivate, entity.EntityOverride, id, existing, nil, actor); err != nil {
			return err
		}
		return s.writeVersion(txCtx, fmt.Sprintf("override %s deactivated", existing.OverrideType), actor)
	})
}

func (s *matrixServiceImpl) ListOverrides(ctx context.Context) ([]*entity.ApprovalOverride, error) {
	return s.overrides.List(ctx)
}

// ── Snapshot / versions ──────────────────────────────────────────────────────

func (s *matrixServiceImpl) BuildSnapshot(ctx context.Context) (*entity.MatrixSnapshot, error) {
	roles, err := s.roles.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	rules, err := s.rules.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	overrides, err := s.overrides.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	var approvers []*entity.RuleApprover
	for _, r := range rules {
		approvers = append(approvers, r.Approvers...)
	}

	return &entity.MatrixSnapshot{
		Roles:     roles,
		Rules:     rules,
		Overrides: overrides,
		Approvers: approvers,
	}, nil
}

func (s *matrixServiceImpl) ListVersions(ctx context.Context, limit int) ([]*entity.MatrixVersion, error) {
	return s.versions.List(ctx, limit)
}

// writeVersion snapshots the full active configuration under the next version
// number. Callers hold the scope lock for band-affecting edits, so version
// numbers observed by concurrent editors of one scope strictly increase.
func (s *matrixServiceImpl) writeVersion(ctx context.Context, summary, actor string) error {
	snap, err := s.BuildSnapshot(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal matrix snapshot: %w", err)
	}

	latest, err := s.versions.Latest(ctx)
	if err != nil {
		return err
	}
	number := 1
	if latest != nil {
		number = latest.VersionNumber + 1
	}

	return s.versions.Append(ctx, &entity.MatrixVersion{
		VersionNumber: number,
		Snapshot:      string(data),
		ChangeSummary: summary,
		ChangedBy:     actor,
		CreatedAt:     time.Now(),
	})
}

func (s *matrixServiceImpl) appendAudit(ctx context.Context, action, entityType string, entityID int64, oldVal, newVal interface{}, actor string) error {
	entry := &entity.AuditLog{
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		PerformedBy: actor,
	}
	if oldVal != nil {
		data, err := json.Marshal(oldVal)
		if err != nil {
			return err
		}
		entry.OldValues = string(data)
	}
	if newVal != nil {
		data, err := json.Marshal(newVal)
		if err != nil {
			return err
		}
		entry.NewValues = string(data)
	}
	return s.audit.Append(ctx, entry)
}

func (s *matrixServiceImpl) lockScope(rule *entity.ApprovalRule) func() {
	key := fmt.Sprintf("%s|%s", rule.Category, rule.Currency)
	if rule.DepartmentID != nil {
		key = fmt.Sprintf("%s|%d", key, *rule.DepartmentID)
	}

	s.scopeMu.Lock()
	mu, ok := s.scopes[key]
	if !ok {
		mu = &sync.Mutex{}
		s.scopes[key] = mu
	}
	s.scopeMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// checkBandOverlap rejects a rule whose band intersects another active rule
// in the same scope. The row being superseded is excluded from the check.
func (s *matrixServiceImpl) checkBandOverlap(ctx context.Context, rule *entity.ApprovalRule, previous *entity.ApprovalRule) error {
	peers, err := s.rules.ListActiveByScope(ctx, rule.Category, rule.Currency)
	if err != nil {
		return err
	}
	for _, peer := range peers {
		if previous != nil && peer.ID == previous.ID {
			continue
		}
		if !peer.SameScope(rule) {
			continue
		}
		if peer.Overlaps(rule) {
			return &entity.ConfigurationError{
				Code:       entity.CodeOverlappingBands,
				EntityType: entity.EntityRule,
				EntityID:   rule.ID,
				ConflictID: peer.ID,
				Detail: fmt.Sprintf("band [%v, %v) overlaps rule %d",
					rule.MinAmount, fmtUpper(rule.MaxAmount), peer.ID),
			}
		}
	}
	return nil
}

// validateRule enforces construction-time invariants: a sane band, known
// category, and a well-formed approver chain with unique sequence orders.
func (s *matrixServiceImpl) validateRule(ctx context.Context, rule *entity.ApprovalRule) error {
	if !rule.Category.IsValid() {
		return &entity.ConfigurationError{
			Code:       entity.CodeInvalidConfiguration,
			EntityType: entity.EntityRule,
			EntityID:   rule.ID,
			Detail:     fmt.Sprintf("unknown category %q", rule.Category),
		}
	}
	if rule.Currency == "" {
		return &entity.ConfigurationError{
			Code:       entity.CodeInvalidConfiguration,
			EntityType: entity.EntityRule,
			EntityID:   rule.ID,
			Detail:     "currency is required",
		}
	}
	if rule.MinAmount < 0 {
		return &entity.ConfigurationError{
			Code:       entity.CodeInvalidConfiguration,
			EntityType: entity.EntityRule,
			EntityID:   rule.ID,
			Detail:     "min_amount must not be negative",
		}
	}
	if rule.MaxAmount != nil && *rule.MaxAmount <= rule.MinAmount {
		return &entity.ConfigurationError{
			Code:       entity.CodeInvalidConfiguration,
			EntityType: entity.EntityRule,
			EntityID:   rule.ID,
			Detail:     "max_amount must be greater than min_amount",
		}
	}
	if rule.AutoApproveBelow != nil && *rule.AutoApproveBelow < rule.MinAmount {
		return &entity.ConfigurationError{
			Code:       entity.CodeInvalidConfiguration,
			EntityType: entity.EntityRule,
			EntityID:   rule.ID,
			Detail:     "auto_approve_below falls outside the rule band",
		}
	}
	if len(rule.Approvers) == 0 {
		return &entity.ConfigurationError{
			Code:       entity.CodeInvalidConfiguration,
			EntityType: entity.EntityRule,
			EntityID:   rule.ID,
			Detail:     "rule requires at least one approver",
		}
	}

	seen := make(map[int]bool)
	for _, a := range rule.Approvers {
		if a.SequenceOrder <= 0 {
			return &entity.ConfigurationError{
				Code:       entity.CodeInvalidConfiguration,
				EntityType: entity.EntityRule,
				EntityID:   rule.ID,
				Detail:     fmt.Sprintf("sequence_order %d must be positive", a.SequenceOrder),
			}
		}
		if seen[a.SequenceOrder] {
			return &entity.ConfigurationError{
				Code:       entity.CodeDuplicateSequenceOrder,
				EntityType: entity.EntityRule,
				EntityID:   rule.ID,
				Detail:     fmt.Sprintf("sequence_order %d appears more than once", a.SequenceOrder),
			}
		}
		seen[a.SequenceOrder] = true

		role, err := s.roles.GetByID(ctx, a.ApprovalRoleID)
		if err != nil {
			return err
		}
		if role == nil || !role.IsActive {
			return &entity.ConfigurationError{
				Code:       entity.CodeInvalidConfiguration,
				EntityType: entity.EntityRule,
				EntityID:   rule.ID,
				ConflictID: a.ApprovalRoleID,
				Detail:     fmt.Sprintf("approver role %d is missing or inactive", a.ApprovalRoleID),
			}
		}
	}
	return nil
}

func validateRole(role *entity.Role) error {
	if role.Code == "" || role.Name == "" {
		return &entity.ConfigurationError{
			Code:       entity.CodeInvalidConfiguration,
			EntityType: entity.EntityRole,
			EntityID:   role.ID,
			Detail:     "role code and name are required",
		}
	}
	if role.HierarchyLevel <= 0 {
		return &entity.ConfigurationError{
			Code:       entity.CodeInvalidConfiguration,
			EntityType: entity.EntityRole,
			EntityID:   role.ID,
			Detail:     "hierarchy_level must be positive",
		}
	}
	return nil
}

func validateOverride(override *entity.ApprovalOverride) error {
	if !override.OverrideType.IsValid() {
		return &entity.ConfigurationError{
			Code:       entity.CodeInvalidConfiguration,
			EntityType: entity.EntityOverride,
			EntityID:   override.ID,
			Detail:     fmt.Sprintf("unknown override type %q", override.OverrideType),
		}
	}
	if len(override.BypassLevels) == 0 {
		return &entity.ConfigurationError{
			Code:       entity.CodeInvalidConfiguration,
			EntityType: entity.EntityOverride,
			EntityID:   override.ID,
			Detail:     "override must bypass at least one level",
		}
	}
	if !override.ValidUntil.After(override.ValidFrom) {
		return &entity.ConfigurationError{
			Code:       entity.CodeInvalidConfiguration,
			EntityType: entity.EntityOverride,
			EntityID:   override.ID,
			Detail:     "valid_until must be after valid_from",
		}
	}
	return nil
}

func fmtUpper(v *float64) interface{} {
	if v == nil {
		return "inf"
	}
	return *v
}
