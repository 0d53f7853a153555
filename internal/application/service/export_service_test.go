package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/procurio/approval-engine/internal/domain/entity"
)

func newExportFixture(t *testing.T) (ExportService, MatrixService, *memStore) {
	t.Helper()
	store := newMemStore()
	matrix := NewMatrixService(
		&memRoles{s: store},
		&memRules{s: store},
		&memOverrides{s: store},
		&memVersions{s: store},
		&memAudit{s: store},
		memTx{},
		zap.NewNop(),
	)
	export := NewExportService(
		matrix,
		&memRoles{s: store},
		&memRules{s: store},
		&memOverrides{s: store},
		&memVersions{s: store},
		&memAudit{s: store},
		memTx{},
		zap.NewNop(),
	)
	return export, matrix, store
}

func seedMatrix(t *testing.T, matrix MatrixService) {
	t.Helper()
	ctx := context.Background()

	buyer := mustCreateRole(t, matrix, "buyer", 1)
	manager := mustCreateRole(t, matrix, "manager", 2)

	_, err := matrix.SaveRule(ctx, &entity.ApprovalRule{
		Category:  entity.CategoryPurchaseRequest,
		Name:      "PR standard",
		MinAmount: 0,
		MaxAmount: f64(50000),
		Currency:  "AED",
		Approvers: []*entity.RuleApprover{
			{ApprovalRoleID: buyer.ID, SequenceOrder: 1, IsMandatory: true},
			{ApprovalRoleID: manager.ID, SequenceOrder: 2, IsMandatory: true, CanDelegate: true},
		},
	}, "admin")
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err = matrix.SaveOverride(ctx, &entity.ApprovalOverride{
		OverrideType:         entity.OverrideEmergencyPurchase,
		BypassLevels:         []int{1},
		RequireJustification: true,
		ValidFrom:            now,
		ValidUntil:           now.AddDate(0, 6, 0),
	}, "admin")
	require.NoError(t, err)
}

func TestExportImportRoundTrip(t *testing.T) {
	export, matrix, _ := newExportFixture(t)
	seedMatrix(t, matrix)
	ctx := context.Background()

	data, err := export.ExportJSON(ctx)
	require.NoError(t, err)

	var snap entity.MatrixSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	require.Len(t, snap.Roles, 2)
	require.Len(t, snap.Rules, 1)
	require.Len(t, snap.Overrides, 1)

	// import into a fresh store
	target, targetMatrix, targetStore := newExportFixture(t)
	require.NoError(t, target.ImportJSON(ctx, data, "migrator"))

	got, err := targetMatrix.BuildSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, got.Roles, 2)
	require.Len(t, got.Rules, 1)
	require.Len(t, got.Overrides, 1)

	// approver chain order survives, with role links remapped by code
	rule := got.Rules[0]
	require.Len(t, rule.Approvers, 2)
	assert.Equal(t, 1, rule.Approvers[0].SequenceOrder)
	assert.Equal(t, 2, rule.Approvers[1].SequenceOrder)
	assert.True(t, rule.Approvers[1].CanDelegate)

	var buyerID, managerID int64
	for _, r := range got.Roles {
		switch r.Code {
		case "buyer":
			buyerID = r.ID
		case "manager":
			managerID = r.ID
		}
	}
	assert.Equal(t, buyerID, rule.Approvers[0].ApprovalRoleID)
	assert.Equal(t, managerID, rule.Approvers[1].ApprovalRoleID)

	// import is audited and versioned
	var sawImport bool
	for _, e := range targetStore.audit {
		if e.Action == entity.AuditActionImport {
			sawImport = true
		}
	}
	assert.True(t, sawImport)
	assert.NotEmpty(t, targetStore.versions)
}

func TestImportReplacesExistingRules(t *testing.T) {
	export, matrix, _ := newExportFixture(t)
	seedMatrix(t, matrix)
	ctx := context.Background()

	data, err := export.ExportJSON(ctx)
	require.NoError(t, err)

	target, targetMatrix, targetStore := newExportFixture(t)
	stale := mustCreateRole(t, targetMatrix, "legacy_approver", 1)
	_, err = targetMatrix.SaveRule(ctx, &entity.ApprovalRule{
		Category:  entity.CategoryContract,
		Name:      "Legacy contracts",
		MinAmount: 0,
		Currency:  "USD",
		Approvers: []*entity.RuleApprover{
			{ApprovalRoleID: stale.ID, SequenceOrder: 1, IsMandatory: true},
		},
	}, "admin")
	require.NoError(t, err)

	require.NoError(t, target.ImportJSON(ctx, data, "migrator"))

	got, err := targetMatrix.BuildSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, got.Rules, 1)
	assert.Equal(t, "PR standard", got.Rules[0].Name)

	// the pre-import rule row is kept but no longer active
	var legacyActive bool
	for _, r := range targetStore.rules {
		if r.Name == "Legacy contracts" && r.IsActive {
			legacyActive = true
		}
	}
	assert.False(t, legacyActive)
}

func TestImportRejectsInvalidSnapshots(t *testing.T) {
	ctx := context.Background()

	valid := func() *entity.MatrixSnapshot {
		return &entity.MatrixSnapshot{
			Roles: []*entity.Role{
				{ID: 1, Name: "Buyer", Code: "buyer", HierarchyLevel: 1, IsActive: true},
			},
			Rules: []*entity.ApprovalRule{
				{
					ID:        10,
					Category:  entity.CategoryPurchaseRequest,
					Name:      "PR",
					MinAmount: 0,
					MaxAmount: f64(50000),
					Currency:  "AED",
					IsActive:  true,
					Version:   1,
					Approvers: []*entity.RuleApprover{
						{RuleID: 10, ApprovalRoleID: 1, SequenceOrder: 1, IsMandatory: true},
					},
				},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(s *entity.MatrixSnapshot)
	}{
		{
			name: "duplicate role code",
			mutate: func(s *entity.MatrixSnapshot) {
				s.Roles = append(s.Roles, &entity.Role{ID: 2, Name: "Buyer 2", Code: "buyer", HierarchyLevel: 2, IsActive: true})
			},
		},
		{
			name: "overlapping bands in one scope",
			mutate: func(s *entity.MatrixSnapshot) {
				dup := *s.Rules[0]
				dup.ID = 11
				dup.Name = "PR overlap"
				dup.MinAmount = 40000
				dup.MaxAmount = f64(90000)
				s.Rules = append(s.Rules, &dup)
			},
		},
		{
			name: "duplicate sequence order",
			mutate: func(s *entity.MatrixSnapshot) {
				s.Rules[0].Approvers = append(s.Rules[0].Approvers,
					&entity.RuleApprover{RuleID: 10, ApprovalRoleID: 1, SequenceOrder: 1})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			export, _, store := newExportFixture(t)
			snap := valid()
			tt.mutate(snap)
			data, err := json.Marshal(snap)
			require.NoError(t, err)

			err = export.ImportJSON(ctx, data, "migrator")
			require.Error(t, err)
			assert.Empty(t, store.rules, "a rejected import must not write anything")
		})
	}

	t.Run("malformed payload", func(t *testing.T) {
		export, _, _ := newExportFixture(t)
		err := export.ImportJSON(ctx, []byte("{not json"), "migrator")
		assert.Error(t, err)
	})
}

func TestBuildWorkbook(t *testing.T) {
	export, matrix, _ := newExportFixture(t)
	seedMatrix(t, matrix)

	f, err := export.BuildWorkbook(context.Background())
	require.NoError(t, err)
	defer f.Close()

	for _, sheet := range []string{"Roles", "Rules", "Overrides"} {
		idx, err := f.GetSheetIndex(sheet)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, idx, 0, "missing sheet %s", sheet)
	}

	rows, err := f.GetRows("Rules")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 2, "header plus one rule row")
	assert.Contains(t, rows[1], "PR standard")
}
