package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/procurio/approval-engine/internal/domain/entity"
	"github.com/procurio/approval-engine/pkg/database"

	_ "github.com/mattn/go-sqlite3"
)

// newTestDB opens an in-memory database and applies the real migrations.
// A single connection keeps the in-memory database alive across queries.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	sqlDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	migrator := database.NewMigrator(&database.DB{DB: sqlDB}, zap.NewNop())
	require.NoError(t, migrator.RunMigrations("../../../../migrations"))
	return sqlDB
}

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func seedRole(t *testing.T, db *sql.DB, code string, level int) *entity.Role {
	t.Helper()
	repo := NewRoleRepository(db, zap.NewNop())
	role := &entity.Role{Name: code, Code: code, HierarchyLevel: level, IsActive: true}
	require.NoError(t, repo.Create(context.Background(), role))
	return role
}

func TestRuleRepositoryRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewRuleRepository(db, zap.NewNop())

	buyer := seedRole(t, db, "BUYER", 1)
	manager := seedRole(t, db, "MANAGER", 2)

	hours := 48
	unbounded := &entity.ApprovalRule{
		Category:           entity.CategoryPurchaseRequest,
		Name:               "PR large",
		MinAmount:          50000,
		MaxAmount:          nil,
		Currency:           "AED",
		RequiresSequential: true,
		EscalationHours:    &hours,
		IsActive:           true,
		Conditions:         map[string]string{"project": "capital"},
		Version:            1,
		Approvers: []*entity.RuleApprover{
			{ApprovalRoleID: buyer.ID, SequenceOrder: 1, IsMandatory: true},
			{ApprovalRoleID: manager.ID, SequenceOrder: 2, IsMandatory: true, CanDelegate: true},
		},
	}
	require.NoError(t, repo.Create(ctx, unbounded))
	require.NotZero(t, unbounded.ID)

	scoped := &entity.ApprovalRule{
		Category:     entity.CategoryPurchaseRequest,
		Name:         "PR engineering",
		MinAmount:    0,
		MaxAmount:    f64(50000),
		Currency:     "AED",
		DepartmentID: i64(7),
		IsActive:     true,
		Version:      1,
		Approvers: []*entity.RuleApprover{
			{ApprovalRoleID: buyer.ID, SequenceOrder: 1, IsMandatory: true},
		},
	}
	require.NoError(t, repo.Create(ctx, scoped))

	got, err := repo.GetByID(ctx, unbounded.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.MaxAmount)
	assert.Nil(t, got.DepartmentID)
	require.NotNil(t, got.EscalationHours)
	assert.Equal(t, 48, *got.EscalationHours)
	assert.Equal(t, map[string]string{"project": "capital"}, got.Conditions)
	require.Len(t, got.Approvers, 2)
	assert.Equal(t, buyer.ID, got.Approvers[0].ApprovalRoleID)
	assert.True(t, got.Approvers[1].CanDelegate)
	assert.True(t, got.Contains(9_000_000))

	got, err = repo.GetByID(ctx, scoped.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.DepartmentID)
	assert.Equal(t, int64(7), *got.DepartmentID)
	require.NotNil(t, got.MaxAmount)
	assert.Equal(t, 50000.0, *got.MaxAmount)
	assert.Nil(t, got.EscalationHours)

	rules, err := repo.ListActiveByScope(ctx, entity.CategoryPurchaseRequest, "AED")
	require.NoError(t, err)
	assert.Len(t, rules, 2)
}

func TestWorkflowRepositoryRoundTripAndConcurrency(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewWorkflowRepository(db, zap.NewNop())
	rules := NewRuleRepository(db, zap.NewNop())

	buyer := seedRole(t, db, "BUYER", 1)
	rule := &entity.ApprovalRule{
		Category:  entity.CategoryPurchaseOrder,
		Name:      "PO standard",
		MinAmount: 0,
		Currency:  "AED",
		IsActive:  true,
		Version:   1,
		Approvers: []*entity.RuleApprover{
			{ApprovalRoleID: buyer.ID, SequenceOrder: 1, IsMandatory: true},
		},
	}
	require.NoError(t, rules.Create(ctx, rule))

	wf := &entity.ApprovalWorkflow{
		Category:     entity.CategoryPurchaseOrder,
		ReferenceID:  4711,
		Amount:       1200,
		Currency:     "AED",
		RuleID:       i64(rule.ID),
		RuleVersion:  1,
		CurrentLevel: 1,
		Status:       entity.StatusPending,
		InitiatedBy:  "alice",
	}
	require.NoError(t, repo.Create(ctx, wf))

	got, err := repo.GetByReference(ctx, entity.CategoryPurchaseOrder, 4711)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, wf.ID, got.ID)
	assert.Equal(t, int64(4711), got.ReferenceID)

	pending, err := repo.ListPendingByRole(ctx, buyer.ID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, wf.ID, pending[0].ID)

	// First writer wins; the stale second write must not apply.
	completed := time.Now()
	wf.Status = entity.StatusApproved
	wf.CompletedAt = &completed
	require.NoError(t, repo.Update(ctx, wf, entity.StatusPending, 1))

	stale := *got
	stale.Status = entity.StatusRejected
	err = repo.Update(ctx, &stale, entity.StatusPending, 1)
	require.Error(t, err)
	assert.True(t, entity.IsCode(err, entity.CodeConcurrentModification))

	got, err = repo.GetByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestOverrideRepositoryRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewOverrideRepository(db, zap.NewNop())

	category := entity.CategoryPurchaseRequest
	now := time.Now()
	override := &entity.ApprovalOverride{
		OverrideType:         entity.OverrideEmergencyPurchase,
		Category:             &category,
		BypassLevels:         []int{1, 2},
		RequireJustification: true,
		MaxAmount:            f64(25000),
		ValidFrom:            now.Add(-time.Hour),
		ValidUntil:           now.Add(24 * time.Hour),
		IsActive:             true,
	}
	require.NoError(t, repo.Create(ctx, override))
	require.NotZero(t, override.ID)

	got, err := repo.GetActiveByType(ctx, entity.OverrideEmergencyPurchase)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, override.ID, got.ID)
	assert.Equal(t, []int{1, 2}, got.BypassLevels)
	require.NotNil(t, got.Category)
	assert.Equal(t, entity.CategoryPurchaseRequest, *got.Category)
	assert.True(t, got.ValidAt(now))

	require.NoError(t, repo.Deactivate(ctx, override.ID))
	got, err = repo.GetActiveByType(ctx, entity.OverrideEmergencyPurchase)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestVersionRepositoryDuplicateNumber(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewVersionRepository(db, zap.NewNop())

	first := &entity.MatrixVersion{VersionNumber: 1, Snapshot: "{}", ChangedBy: "alice"}
	require.NoError(t, repo.Append(ctx, first))

	// A concurrent edit that read the same latest version collides on the
	// unique version_number index and must surface as retryable.
	dup := &entity.MatrixVersion{VersionNumber: 1, Snapshot: "{}", ChangedBy: "bob"}
	err := repo.Append(ctx, dup)
	require.Error(t, err)
	assert.True(t, entity.IsCode(err, entity.CodeConcurrentModification))

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 1, latest.VersionNumber)
	assert.Equal(t, "alice", latest.ChangedBy)
}
