package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/procurio/approval-engine/internal/application/port"
	"github.com/procurio/approval-engine/internal/domain/entity"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// ExportService serializes the approval matrix for backup and migration.
// JSON is the lossless round-trip format; the XLSX workbook is a write-only
// report for finance and operations review.
type ExportService interface {
	ExportJSON(ctx context.Context) ([]byte, error)
	ImportJSON(ctx context.Context, data []byte, actor string) error
	BuildWorkbook(ctx context.Context) (*excelize.File, error)
}

type exportServiceImpl struct {
	matrix    MatrixService
	roles     port.RoleRepository
	rules     port.RuleRepository
	overrides port.OverrideRepository
	versions  port.VersionRepository
	audit     port.AuditRepository
	txManager port.TransactionManager
	logger    *zap.Logger
}

// NewExportService creates a matrix export/import service
func NewExportService(
	matrix MatrixService,
	roles port.RoleRepository,
	rules port.RuleRepository,
	overrides port.OverrideRepository,
	versions port.VersionRepository,
	audit port.AuditRepository,
	txManager port.TransactionManager,
	logger *zap.Logger,
) ExportService {
	return &exportServiceImpl{
		matrix:    matrix,
		roles:     roles,
		rules:     rules,
		overrides: overrides,
		versions:  versions,
		audit:     audit,
		txManager: txManager,
		logger:    logger,
	}
}

func (s *exportServiceImpl) ExportJSON(ctx context.Context) ([]byte, error) {
	snap, err := s.matrix.BuildSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(snap, "", "  ")
}

// ImportJSON validates a snapshot with the same write-path preconditions as
// interactive edits, then replaces the active configuration behind a new
// matrix version. Roles are matched by code; approver role references are
// remapped accordingly.
func (s *exportServiceImpl) ImportJSON(ctx context.Context, data []byte, actor string) error {
	var snap entity.MatrixSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse matrix snapshot: %w", err)
	}
	if err := validateSnapshot(&snap); err != nil {
		return err
	}

	// snapshot role id -> role code, for approver remapping
	codeByID := make(map[int64]string, len(snap.Roles))
	for _, r := range snap.Roles {
		codeByID[r.ID] = r.Code
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		idByCode := make(map[string]int64, len(snap.Roles))
		for _, role := range snap.Roles {
			existing, err := s.roles.GetByCode(txCtx, role.Code)
			if err != nil {
				return err
			}
			if existing != nil {
				role.ID = existing.ID
				if err := s.roles.Update(txCtx, role); err != nil {
					return err
				}
			} else {
				role.ID = 0
				if err := s.roles.Create(txCtx, role); err != nil {
					return err
				}
			}
			idByCode[role.Code] = role.ID
		}

		// Retire the current active rules; in-flight workflows stay bound to
		// their original rows.
		current, err := s.rules.ListActive(txCtx)
		if err != nil {
			return err
		}
		for _, rule := range current {
			if err := s.rules.Deactivate(txCtx, rule.ID); err != nil {
				return err
			}
		}

		for _, rule := range snap.Rules {
			rule.ID = 0
			rule.IsActive = true
			for _, a := range rule.Approvers {
				code, ok := codeByID[a.ApprovalRoleID]
				if !ok {
					return &entity.ConfigurationError{
						Code:       entity.CodeInvalidConfiguration,
						EntityType: entity.EntityRule,
						ConflictID: a.ApprovalRoleID,
						Detail:     "approver references a role absent from the snapshot",
					}
				}
				a.ApprovalRoleID = idByCode[code]
			}
			if err := s.rules.Create(txCtx, rule); err != nil {
				return err
			}
		}

		currentOverrides, err := s.overrides.ListActive(txCtx)
		if err != nil {
			return err
		}
		for _, o := range currentOverrides {
			if err := s.overrides.Deactivate(txCtx, o.ID); err != nil {
				return err
			}
		}
		for _, o := range snap.Overrides {
			o.ID = 0
			o.IsActive = true
			if err := s.overrides.Create(txCtx, o); err != nil {
				return err
			}
		}

		if err := s.audit.Append(txCtx, &entity.AuditLog{
			Action:      entity.AuditActionImport,
			EntityType:  entity.EntityMatrix,
			NewValues:   string(data),
			PerformedBy: actor,
		}); err != nil {
			return err
		}
		return s.writeImportVersion(txCtx, actor)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Matrix snapshot imported",
		zap.Int("roles", len(snap.Roles)),
		zap.Int("rules", len(snap.Rules)),
		zap.Int("overrides", len(snap.Overrides)))
	return nil
}

// BuildWorkbook renders the active matrix into an XLSX workbook with one
// sheet per entity kind.
func (s *exportServiceImpl) BuildWorkbook(ctx context.Context) (*excelize.File, error) {
	snap, err := s.matrix.BuildSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	f.SetSheetName("Sheet1", "Roles")
	if _, err := f.NewSheet("Rules"); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet("Overrides"); err != nil {
		return nil, err
	}

	writeRow(f, "Roles", 1, "ID", "Name", "Code", "Hierarchy Level", "Active")
	for i, role := range snap.Roles {
		writeRow(f, "Roles", i+2, role.ID, role.Name, role.Code, role.HierarchyLevel, role.IsActive)
	}

	writeRow(f, "Rules", 1, "ID", "Category", "Name", "Currency", "Min Amount", "Max Amount", "Auto Approve Below", "Escalation Hours", "Version", "Approver Chain")
	for i, rule := range snap.Rules {
		maxAmount := "unbounded"
		if rule.MaxAmount != nil {
			maxAmount = fmt.Sprintf("%.2f", *rule.MaxAmount)
		}
		autoApprove := ""
		if rule.AutoApproveBelow != nil {
			autoApprove = fmt.Sprintf("%.2f", *rule.AutoApproveBelow)
		}
		escalation := ""
		if rule.EscalationHours != nil {
			escalation = fmt.Sprintf("%dh", *rule.EscalationHours)
		}
		writeRow(f, "Rules", i+2, rule.ID, rule.Category.String(), rule.Name, rule.Currency,
			fmt.Sprintf("%.2f", rule.MinAmount), maxAmount, autoApprove, escalation, rule.Version,
			describeChain(rule, snap.Roles))
	}

	writeRow(f, "Overrides", 1, "ID", "Type", "Category", "Bypass Levels", "Max Amount", "Justification Required", "Valid From", "Valid Until")
	for i, o := range snap.Overrides {
		category := "any"
		if o.Category != nil {
			category = o.Category.String()
		}
		maxAmount := ""
		if o.MaxAmount != nil {
			maxAmount = fmt.Sprintf("%.2f", *o.MaxAmount)
		}
		writeRow(f, "Overrides", i+2, o.ID, o.OverrideType.String(), category,
			joinInts(o.BypassLevels), maxAmount, o.RequireJustification,
			o.ValidFrom.Format(time.RFC3339), o.ValidUntil.Format(time.RFC3339))
	}

	return f, nil
}

func (s *exportServiceImpl) writeImportVersion(ctx context.Context, actor string) error {
	snap, err := s.matrix.BuildSnapshot(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
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
		ChangeSummary: "matrix snapshot imported",
		ChangedBy:     actor,
		CreatedAt:     time.Now(),
	})
}

// validateSnapshot applies the same integrity checks as interactive edits:
// unique role codes, unique sequence orders, and non-overlapping bands per
// scope.
func validateSnapshot(snap *entity.MatrixSnapshot) error {
	codes := make(map[string]bool, len(snap.Roles))
	for _, role := range snap.Roles {
		if role.Code == "" {
			return &entity.ConfigurationError{
				Code:       entity.CodeInvalidConfiguration,
				EntityType: entity.EntityRole,
				EntityID:   role.ID,
				Detail:     "role code is required",
			}
		}
		if codes[role.Code] {
			return &entity.ConfigurationError{
				Code:       entity.CodeInvalidConfiguration,
				EntityType: entity.EntityRole,
				EntityID:   role.ID,
				Detail:     fmt.Sprintf("duplicate role code %q", role.Code),
			}
		}
		codes[role.Code] = true
	}

	for _, rule := range snap.Rules {
		seen := make(map[int]bool)
		for _, a := range rule.Approvers {
			if seen[a.SequenceOrder] {
				return &entity.ConfigurationError{
					Code:       entity.CodeDuplicateSequenceOrder,
					EntityType: entity.EntityRule,
					EntityID:   rule.ID,
					Detail:     fmt.Sprintf("sequence_order %d appears more than once", a.SequenceOrder),
				}
			}
			seen[a.SequenceOrder] = true
		}
	}

	for i, rule := range snap.Rules {
		for _, peer := range snap.Rules[i+1:] {
			if rule.SameScope(peer) && rule.Overlaps(peer) {
				return &entity.ConfigurationError{
					Code:       entity.CodeOverlappingBands,
					EntityType: entity.EntityRule,
					EntityID:   rule.ID,
					ConflictID: peer.ID,
					Detail:     "snapshot contains overlapping bands in one scope",
				}
			}
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...interface{}) {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			continue
		}
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func describeChain(rule *entity.ApprovalRule, roles []*entity.Role) string {
	nameByID := make(map[int64]string, len(roles))
	for _, r := range roles {
		nameByID[r.ID] = r.Name
	}
	parts := make([]string, 0, len(rule.Approvers))
	for _, a := range rule.Approvers {
		name := nameByID[a.ApprovalRoleID]
		if name == "" {
			name = fmt.Sprintf("role-%d", a.ApprovalRoleID)
		}
		parts = append(parts, fmt.Sprintf("%d:%s", a.SequenceOrder, name))
	}
	return strings.Join(parts, " -> ")
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ",")
}
