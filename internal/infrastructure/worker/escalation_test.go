package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/procurio/approval-engine/internal/application/engine"
	"github.com/procurio/approval-engine/internal/application/resolver"
	"github.com/procurio/approval-engine/internal/domain/entity"
)

type stubWorkflows struct {
	byID    map[int64]*entity.ApprovalWorkflow
	pending []*entity.ApprovalWorkflow
	updates int
}

func (s *stubWorkflows) Create(ctx context.Context, wf *entity.ApprovalWorkflow) error { return nil }
func (s *stubWorkflows) GetByID(ctx context.Context, id int64) (*entity.ApprovalWorkflow, error) {
	return s.byID[id], nil
}
func (s *stubWorkflows) GetByReference(ctx context.Context, category entity.Category, referenceID int64) (*entity.ApprovalWorkflow, error) {
	return nil, nil
}
func (s *stubWorkflows) Update(ctx context.Context, wf *entity.ApprovalWorkflow, expectedStatus string, expectedLevel int) error {
	s.byID[wf.ID] = wf
	s.updates++
	return nil
}
func (s *stubWorkflows) ListByStatus(ctx context.Context, status string, limit int) ([]*entity.ApprovalWorkflow, error) {
	var out []*entity.ApprovalWorkflow
	for _, wf := range s.pending {
		if wf.Status == status {
			out = append(out, wf)
		}
	}
	return out, nil
}
func (s *stubWorkflows) ListPendingByRole(ctx context.Context, roleID int64, limit int) ([]*entity.ApprovalWorkflow, error) {
	return nil, nil
}

type stubRules struct {
	byID map[int64]*entity.ApprovalRule
}

func (s *stubRules) Create(ctx context.Context, rule *entity.ApprovalRule) error { return nil }
func (s *stubRules) GetByID(ctx context.Context, id int64) (*entity.ApprovalRule, error) {
	return s.byID[id], nil
}
func (s *stubRules) Deactivate(ctx context.Context, id int64) error { return nil }
func (s *stubRules) ListActiveByScope(ctx context.Context, category entity.Category, currency string) ([]*entity.ApprovalRule, error) {
	return nil, nil
}
func (s *stubRules) ListActive(ctx context.Context) ([]*entity.ApprovalRule, error) { return nil, nil }
func (s *stubRules) List(ctx context.Context) ([]*entity.ApprovalRule, error)       { return nil, nil }
func (s *stubRules) ReferencedByLiveWorkflow(ctx context.Context, id int64) (bool, error) {
	return false, nil
}

type stubRoles struct{}

func (stubRoles) Create(ctx context.Context, role *entity.Role) error { return nil }
func (stubRoles) GetByID(ctx context.Context, id int64) (*entity.Role, error) {
	return nil, nil
}
func (stubRoles) GetByCode(ctx context.Context, code string) (*entity.Role, error) {
	return nil, nil
}
func (stubRoles) Update(ctx context.Context, role *entity.Role) error          { return nil }
func (stubRoles) Deactivate(ctx context.Context, id int64) error               { return nil }
func (stubRoles) ListActive(ctx context.Context) ([]*entity.Role, error)       { return nil, nil }
func (stubRoles) List(ctx context.Context) ([]*entity.Role, error)             { return nil, nil }
func (stubRoles) ReferencedByRule(ctx context.Context, id int64) (bool, error) { return false, nil }

type stubOverrides struct{}

func (stubOverrides) Create(ctx context.Context, o *entity.ApprovalOverride) error { return nil }
func (stubOverrides) GetByID(ctx context.Context, id int64) (*entity.ApprovalOverride, error) {
	return nil, nil
}
func (stubOverrides) GetActiveByType(ctx context.Context, t entity.OverrideType) (*entity.ApprovalOverride, error) {
	return nil, nil
}
func (stubOverrides) Update(ctx context.Context, o *entity.ApprovalOverride) error { return nil }
func (stubOverrides) Deactivate(ctx context.Context, id int64) error               { return nil }
func (stubOverrides) ListActive(ctx context.Context) ([]*entity.ApprovalOverride, error) {
	return nil, nil
}
func (stubOverrides) List(ctx context.Context) ([]*entity.ApprovalOverride, error) {
	return nil, nil
}

type stubAudit struct{ entries []*entity.AuditLog }

func (s *stubAudit) Append(ctx context.Context, e *entity.AuditLog) error {
	s.entries = append(s.entries, e)
	return nil
}
func (s *stubAudit) List(ctx context.Context, entityType string, limit int) ([]*entity.AuditLog, error) {
	return s.entries, nil
}
func (s *stubAudit) ListByEntity(ctx context.Context, entityType string, entityID int64) ([]*entity.AuditLog, error) {
	return s.entries, nil
}

type stubIdentity struct{}

func (stubIdentity) GetActorRoles(ctx context.Context, actorID string) ([]string, error) {
	return nil, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func newSweepFixture(t *testing.T, now time.Time) (*EscalationWorker, *stubWorkflows, *stubAudit) {
	t.Helper()

	hours := 48
	rule := &entity.ApprovalRule{
		ID:              1,
		Category:        entity.CategoryPurchaseRequest,
		Name:            "PR standard",
		Currency:        "AED",
		EscalationHours: &hours,
		IsActive:        true,
		Version:         1,
		Approvers: []*entity.RuleApprover{
			{RuleID: 1, ApprovalRoleID: 1, SequenceOrder: 1, IsMandatory: true},
		},
	}
	noWindow := &entity.ApprovalRule{
		ID:       2,
		Category: entity.CategoryPurchaseRequest,
		Name:     "PR no window",
		Currency: "AED",
		IsActive: true,
		Version:  1,
		Approvers: []*entity.RuleApprover{
			{RuleID: 2, ApprovalRoleID: 1, SequenceOrder: 1, IsMandatory: true},
		},
	}
	rules := &stubRules{byID: map[int64]*entity.ApprovalRule{1: rule, 2: noWindow}}

	ruleID := int64(1)
	noWindowID := int64(2)
	stale := &entity.ApprovalWorkflow{
		ID: 10, Category: entity.CategoryPurchaseRequest, ReferenceID: 100,
		RuleID: &ruleID, RuleVersion: 1, CurrentLevel: 1,
		Status: entity.StatusPending, UpdatedAt: now.Add(-72 * time.Hour),
	}
	fresh := &entity.ApprovalWorkflow{
		ID: 11, Category: entity.CategoryPurchaseRequest, ReferenceID: 101,
		RuleID: &ruleID, RuleVersion: 1, CurrentLevel: 1,
		Status: entity.StatusPending, UpdatedAt: now.Add(-time.Hour),
	}
	windowless := &entity.ApprovalWorkflow{
		ID: 12, Category: entity.CategoryPurchaseRequest, ReferenceID: 102,
		RuleID: &noWindowID, RuleVersion: 1, CurrentLevel: 1,
		Status: entity.StatusPending, UpdatedAt: now.Add(-500 * time.Hour),
	}

	workflows := &stubWorkflows{
		byID:    map[int64]*entity.ApprovalWorkflow{10: stale, 11: fresh, 12: windowless},
		pending: []*entity.ApprovalWorkflow{stale, fresh, windowless},
	}

	audit := &stubAudit{}
	res := resolver.New(rules, zap.NewNop())
	eng := engine.New(
		workflows, rules, stubRoles{}, stubOverrides{}, audit,
		stubIdentity{}, res, passthroughTx{}, zap.NewNop(),
		engine.WithClock(func() time.Time { return now }),
	)

	w := NewEscalationWorker(DefaultEscalationWorkerConfig(), workflows, rules, eng, zap.NewNop())
	w.now = func() time.Time { return now }
	return w, workflows, audit
}

func TestSweepEscalatesOnlyOverdueWorkflows(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	w, workflows, audit := newSweepFixture(t, now)

	require.NoError(t, w.Sweep(context.Background()))

	assert.Equal(t, entity.StatusEscalated, workflows.byID[10].Status)
	assert.Equal(t, entity.StatusPending, workflows.byID[11].Status, "within the window")
	assert.Equal(t, entity.StatusPending, workflows.byID[12].Status, "rule has no escalation window")

	require.Len(t, audit.entries, 1)
	assert.Equal(t, entity.AuditActionEscalate, audit.entries[0].Action)
	assert.Equal(t, int64(10), audit.entries[0].EntityID)
}

func TestSweepIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	w, workflows, audit := newSweepFixture(t, now)

	require.NoError(t, w.Sweep(context.Background()))
	first := workflows.updates

	// a second pass finds the workflow already escalated and leaves it alone
	require.NoError(t, w.Sweep(context.Background()))
	assert.Equal(t, first, workflows.updates)
	assert.Len(t, audit.entries, 1)
}

func TestWorkerStartStop(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	w, _, _ := newSweepFixture(t, now)

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()), "double start")
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop(), "stop is idempotent")
}
