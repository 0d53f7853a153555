package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/procurio/approval-engine/internal/domain/entity"
)

func newMatrixFixture(t *testing.T) (MatrixService, *memStore) {
	t.Helper()
	store := newMemStore()
	svc := NewMatrixService(
		&memRoles{s: store},
		&memRules{s: store},
		&memOverrides{s: store},
		&memVersions{s: store},
		&memAudit{s: store},
		memTx{},
		zap.NewNop(),
	)
	return svc, store
}

func mustCreateRole(t *testing.T, svc MatrixService, code string, level int) *entity.Role {
	t.Helper()
	role, err := svc.CreateRole(context.Background(), &entity.Role{
		Name:           code,
		Code:           code,
		HierarchyLevel: level,
	}, "admin")
	require.NoError(t, err)
	return role
}

func f64(v float64) *float64 { return &v }

func TestCreateRole(t *testing.T) {
	svc, store := newMatrixFixture(t)

	role := mustCreateRole(t, svc, "procurement_manager", 2)
	assert.True(t, role.IsActive)
	assert.NotZero(t, role.ID)

	// duplicate code rejected
	_, err := svc.CreateRole(context.Background(), &entity.Role{
		Name: "Other", Code: "procurement_manager", HierarchyLevel: 3,
	}, "admin")
	assert.Equal(t, entity.CodeInvalidConfiguration, entity.CodeOf(err))

	// audit entry and version written together
	require.Len(t, store.audit, 1)
	assert.Equal(t, entity.AuditActionCreate, store.audit[0].Action)
	require.Len(t, store.versions, 1)
	assert.Equal(t, 1, store.versions[0].VersionNumber)
}

func TestCreateRoleValidation(t *testing.T) {
	svc, _ := newMatrixFixture(t)

	_, err := svc.CreateRole(context.Background(), &entity.Role{Code: "x"}, "admin")
	assert.Equal(t, entity.CodeInvalidConfiguration, entity.CodeOf(err))

	_, err = svc.CreateRole(context.Background(), &entity.Role{
		Name: "X", Code: "x", HierarchyLevel: 0,
	}, "admin")
	assert.Equal(t, entity.CodeInvalidConfiguration, entity.CodeOf(err))
}

func TestSaveRuleCreatesVersionOne(t *testing.T) {
	svc, store := newMatrixFixture(t)
	buyer := mustCreateRole(t, svc, "buyer", 1)

	rule, err := svc.SaveRule(context.Background(), &entity.ApprovalRule{
		Category:  entity.CategoryPurchaseRequest,
		Name:      "PR small",
		MinAmount: 0,
		MaxAmount: f64(50000),
		Currency:  "AED",
		Approvers: []*entity.RuleApprover{
			{ApprovalRoleID: buyer.ID, SequenceOrder: 1, IsMandatory: true},
		},
	}, "admin")
	require.NoError(t, err)
	assert.Equal(t, 1, rule.Version)
	assert.True(t, rule.IsActive)
	assert.Equal(t, rule.ID, rule.Approvers[0].RuleID)

	// role creation + rule creation each wrote a version
	require.Len(t, store.versions, 2)
	assert.Equal(t, 2, store.versions[1].VersionNumber)
}

func TestSaveRuleSupersedesPreviousRow(t *testing.T) {
	svc, store := newMatrixFixture(t)
	buyer := mustCreateRole(t, svc, "buyer", 1)
	manager := mustCreateRole(t, svc, "manager", 2)

	v1, err := svc.SaveRule(context.Background(), &entity.ApprovalRule{
		Category:  entity.CategoryPurchaseRequest,
		Name:      "PR small",
		MinAmount: 0,
		MaxAmount: f64(50000),
		Currency:  "AED",
		Approvers: []*entity.RuleApprover{
			{ApprovalRoleID: buyer.ID, SequenceOrder: 1, IsMandatory: true},
		},
	}, "admin")
	require.NoError(t, err)

	edit := *v1
	edit.Approvers = []*entity.RuleApprover{
		{ApprovalRoleID: buyer.ID, SequenceOrder: 1, IsMandatory: true},
		{ApprovalRoleID: manager.ID, SequenceOrder: 2, IsMandatory: true},
	}
	v2, err := svc.SaveRule(context.Background(), &edit, "admin")
	require.NoError(t, err)

	assert.Equal(t, 2, v2.Version)
	assert.NotEqual(t, v1.ID, v2.ID, "edits must insert a new row")

	// the old row survives, deactivated, for workflows pinned to it
	old := store.rules[v1.ID]
	require.NotNil(t, old)
	assert.False(t, old.IsActive)
	assert.Equal(t, 1, old.Version)
	assert.Len(t, old.Approvers, 1)

	active, err := svc.BuildSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, active.Rules, 1)
	assert.Equal(t, v2.ID, active.Rules[0].ID)
}

func TestSaveRuleRejectsOverlappingBands(t *testing.T) {
	svc, _ := newMatrixFixture(t)
	buyer := mustCreateRole(t, svc, "buyer", 1)

	base := entity.ApprovalRule{
		Category: entity.CategoryPurchaseRequest,
		Currency: "AED",
		Approvers: []*entity.RuleApprover{
			{ApprovalRoleID: buyer.ID, SequenceOrder: 1, IsMandatory: true},
		},
	}

	first := base
	first.Name = "PR small"
	first.MinAmount = 0
	first.MaxAmount = f64(50000)
	saved, err := svc.SaveRule(context.Background(), &first, "admin")
	require.NoError(t, err)

	overlapping := base
	overlapping.Name = "PR mid"
	overlapping.MinAmount = 40000
	overlapping.MaxAmount = f64(100000)
	_, err = svc.SaveRule(context.Background(), &overlapping, "admin")
	require.Error(t, err)
	assert.Equal(t, entity.CodeOverlappingBands, entity.CodeOf(err))

	var cfgErr *entity.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, saved.ID, cfgErr.ConflictID)

	// adjacent half-open band is fine: [0,50000) then [50000,inf)
	adjacent := base
	adjacent.Name = "PR large"
	adjacent.MinAmount = 50000
	_, err = svc.SaveRule(context.Background(), &adjacent, "admin")
	assert.NoError(t, err)

	// a different department is a different scope
	dept := int64(7)
	scoped := base
	scoped.Name = "PR small finance"
	scoped.MinAmount = 0
	scoped.MaxAmount = f64(50000)
	scoped.DepartmentID = &dept
	_, err = svc.SaveRule(context.Background(), &scoped, "admin")
	assert.NoError(t, err)
}

func TestSaveRuleValidation(t *testing.T) {
	svc, _ := newMatrixFixture(t)
	buyer := mustCreateRole(t, svc, "buyer", 1)
	ctx := context.Background()

	approver := func() []*entity.RuleApprover {
		return []*entity.RuleApprover{{ApprovalRoleID: buyer.ID, SequenceOrder: 1, IsMandatory: true}}
	}

	tests := []struct {
		name     string
		mutate   func(r *entity.ApprovalRule)
		wantCode entity.ErrorCode
	}{
		{
			name:     "unknown category",
			mutate:   func(r *entity.ApprovalRule) { r.Category = "subscription" },
			wantCode: entity.CodeInvalidConfiguration,
		},
		{
			name:     "missing currency",
			mutate:   func(r *entity.ApprovalRule) { r.Currency = "" },
			wantCode: entity.CodeInvalidConfiguration,
		},
		{
			name:     "inverted band",
			mutate:   func(r *entity.ApprovalRule) { r.MinAmount = 100; r.MaxAmount = f64(100) },
			wantCode: entity.CodeInvalidConfiguration,
		},
		{
			name:     "auto approve below band",
			mutate:   func(r *entity.ApprovalRule) { r.MinAmount = 1000; r.AutoApproveBelow = f64(500) },
			wantCode: entity.CodeInvalidConfiguration,
		},
		{
			name:     "no approvers",
			mutate:   func(r *entity.ApprovalRule) { r.Approvers = nil },
			wantCode: entity.CodeInvalidConfiguration,
		},
		{
			name: "duplicate sequence order",
			mutate: func(r *entity.ApprovalRule) {
				r.Approvers = append(r.Approvers,
					&entity.RuleApprover{ApprovalRoleID: buyer.ID, SequenceOrder: 1})
			},
			wantCode: entity.CodeDuplicateSequenceOrder,
		},
		{
			name: "unknown approver role",
			mutate: func(r *entity.ApprovalRule) {
				r.Approvers[0].ApprovalRoleID = 999
			},
			wantCode: entity.CodeInvalidConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &entity.ApprovalRule{
				Category:  entity.CategoryPurchaseRequest,
				Name:      "PR",
				MinAmount: 0,
				MaxAmount: f64(50000),
				Currency:  "AED",
				Approvers: approver(),
			}
			tt.mutate(rule)
			_, err := svc.SaveRule(ctx, rule, "admin")
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, entity.CodeOf(err))
		})
	}
}

func TestDeactivateRoleInUse(t *testing.T) {
	svc, _ := newMatrixFixture(t)
	buyer := mustCreateRole(t, svc, "buyer", 1)

	_, err := svc.SaveRule(context.Background(), &entity.ApprovalRule{
		Category:  entity.CategoryPurchaseRequest,
		Name:      "PR",
		MinAmount: 0,
		Currency:  "AED",
		Approvers: []*entity.RuleApprover{
			{ApprovalRoleID: buyer.ID, SequenceOrder: 1, IsMandatory: true},
		},
	}, "admin")
	require.NoError(t, err)

	err = svc.DeactivateRole(context.Background(), buyer.ID, "admin")
	assert.Equal(t, entity.CodeEntityInUse, entity.CodeOf(err))

	// changing the code of a referenced role is also blocked
	renamed := *buyer
	renamed.Code = "junior_buyer"
	_, err = svc.UpdateRole(context.Background(), &renamed, "admin")
	assert.Equal(t, entity.CodeEntityInUse, entity.CodeOf(err))

	// a non-code edit is allowed
	relabeled := *buyer
	relabeled.Name = "Buyer (Procurement)"
	_, err = svc.UpdateRole(context.Background(), &relabeled, "admin")
	assert.NoError(t, err)
}

func TestDeactivateRuleInUseByLiveWorkflow(t *testing.T) {
	svc, store := newMatrixFixture(t)
	buyer := mustCreateRole(t, svc, "buyer", 1)

	rule, err := svc.SaveRule(context.Background(), &entity.ApprovalRule{
		Category:  entity.CategoryPurchaseRequest,
		Name:      "PR",
		MinAmount: 0,
		Currency:  "AED",
		Approvers: []*entity.RuleApprover{
			{ApprovalRoleID: buyer.ID, SequenceOrder: 1, IsMandatory: true},
		},
	}, "admin")
	require.NoError(t, err)

	store.liveWorkflowRules[rule.ID] = true
	err = svc.DeactivateRule(context.Background(), rule.ID, "admin")
	assert.Equal(t, entity.CodeEntityInUse, entity.CodeOf(err))

	store.liveWorkflowRules[rule.ID] = false
	err = svc.DeactivateRule(context.Background(), rule.ID, "admin")
	require.NoError(t, err)
	assert.False(t, store.rules[rule.ID].IsActive)
}

func TestSaveOverride(t *testing.T) {
	svc, store := newMatrixFixture(t)
	now := time.Now()

	ov, err := svc.SaveOverride(context.Background(), &entity.ApprovalOverride{
		OverrideType:         entity.OverrideEmergencyPurchase,
		BypassLevels:         []int{1, 2},
		RequireJustification: true,
		ValidFrom:            now,
		ValidUntil:           now.Add(30 * 24 * time.Hour),
	}, "admin")
	require.NoError(t, err)
	assert.True(t, ov.IsActive)

	// invalid window
	_, err = svc.SaveOverride(context.Background(), &entity.ApprovalOverride{
		OverrideType: entity.OverrideSingleSource,
		BypassLevels: []int{1},
		ValidFrom:    now,
		ValidUntil:   now,
	}, "admin")
	assert.Equal(t, entity.CodeInvalidConfiguration, entity.CodeOf(err))

	// empty bypass set
	_, err = svc.SaveOverride(context.Background(), &entity.ApprovalOverride{
		OverrideType: entity.OverrideSingleSource,
		ValidFrom:    now,
		ValidUntil:   now.Add(time.Hour),
	}, "admin")
	assert.Equal(t, entity.CodeInvalidConfiguration, entity.CodeOf(err))

	require.NoError(t, svc.DeactivateOverride(context.Background(), ov.ID, "admin"))
	assert.False(t, store.overrides[ov.ID].IsActive)
}

func TestVersionNumbersIncrease(t *testing.T) {
	svc, store := newMatrixFixture(t)

	mustCreateRole(t, svc, "buyer", 1)
	mustCreateRole(t, svc, "manager", 2)
	mustCreateRole(t, svc, "director", 3)

	require.Len(t, store.versions, 3)
	for i, v := range store.versions {
		assert.Equal(t, i+1, v.VersionNumber)
		assert.Equal(t, "admin", v.ChangedBy)
		assert.NotEmpty(t, v.Snapshot)
	}
}
