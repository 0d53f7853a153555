package service

import (
	"context"
	"sort"
	"time"

	"github.com/procurio/approval-engine/internal/domain/entity"
)

// memStore is a shared in-memory backing store for the repository fakes used
// across the service tests.
type memStore struct {
	roles     map[int64]*entity.Role
	rules     map[int64]*entity.ApprovalRule
	overrides map[int64]*entity.ApprovalOverride
	workflows map[int64]*entity.ApprovalWorkflow
	versions  []*entity.MatrixVersion
	audit     []*entity.AuditLog
	nextID    int64

	liveWorkflowRules map[int64]bool // rule ids referenced by live workflows
}

func newMemStore() *memStore {
	return &memStore{
		roles:             make(map[int64]*entity.Role),
		rules:             make(map[int64]*entity.ApprovalRule),
		overrides:         make(map[int64]*entity.ApprovalOverride),
		workflows:         make(map[int64]*entity.ApprovalWorkflow),
		liveWorkflowRules: make(map[int64]bool),
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

type memRoles struct{ s *memStore }

func (m *memRoles) Create(ctx context.Context, role *entity.Role) error {
	role.ID = m.s.id()
	m.s.roles[role.ID] = role
	return nil
}
func (m *memRoles) GetByID(ctx context.Context, id int64) (*entity.Role, error) {
	return m.s.roles[id], nil
}
func (m *memRoles) GetByCode(ctx context.Context, code string) (*entity.Role, error) {
	for _, r := range m.s.roles {
		if r.Code == code {
			return r, nil
		}
	}
	return nil, nil
}
func (m *memRoles) Update(ctx context.Context, role *entity.Role) error {
	m.s.roles[role.ID] = role
	return nil
}
func (m *memRoles) Deactivate(ctx context.Context, id int64) error {
	if r, ok := m.s.roles[id]; ok {
		r.IsActive = false
	}
	return nil
}
func (m *memRoles) ListActive(ctx context.Context) ([]*entity.Role, error) {
	var out []*entity.Role
	for _, r := range m.s.roles {
		if r.IsActive {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
func (m *memRoles) List(ctx context.Context) ([]*entity.Role, error) {
	var out []*entity.Role
	for _, r := range m.s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
func (m *memRoles) ReferencedByRule(ctx context.Context, id int64) (bool, error) {
	for _, rule := range m.s.rules {
		if !rule.IsActive {
			continue
		}
		for _, a := range rule.Approvers {
			if a.ApprovalRoleID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

type memRules struct{ s *memStore }

func (m *memRules) Create(ctx context.Context, rule *entity.ApprovalRule) error {
	rule.ID = m.s.id()
	for _, a := range rule.Approvers {
		a.RuleID = rule.ID
	}
	m.s.rules[rule.ID] = rule
	return nil
}
func (m *memRules) GetByID(ctx context.Context, id int64) (*entity.ApprovalRule, error) {
	return m.s.rules[id], nil
}
func (m *memRules) Deactivate(ctx context.Context, id int64) error {
	if r, ok := m.s.rules[id]; ok {
		r.IsActive = false
	}
	return nil
}
func (m *memRules) ListActiveByScope(ctx context.Context, category entity.Category, currency string) ([]*entity.ApprovalRule, error) {
	var out []*entity.ApprovalRule
	for _, r := range m.s.rules {
		if r.IsActive && r.Category == category && r.Currency == currency {
			out = append(out, r)
		}
	}
	return out, nil
}
func (m *memRules) ListActive(ctx context.Context) ([]*entity.ApprovalRule, error) {
	var out []*entity.ApprovalRule
	for _, r := range m.s.rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
func (m *memRules) List(ctx context.Context) ([]*entity.ApprovalRule, error) {
	var out []*entity.ApprovalRule
	for _, r := range m.s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
func (m *memRules) ReferencedByLiveWorkflow(ctx context.Context, id int64) (bool, error) {
	return m.s.liveWorkflowRules[id], nil
}

type memOverrides struct{ s *memStore }

func (m *memOverrides) Create(ctx context.Context, o *entity.ApprovalOverride) error {
	o.ID = m.s.id()
	m.s.overrides[o.ID] = o
	return nil
}
func (m *memOverrides) GetByID(ctx context.Context, id int64) (*entity.ApprovalOverride, error) {
	return m.s.overrides[id], nil
}
func (m *memOverrides) GetActiveByType(ctx context.Context, t entity.OverrideType) (*entity.ApprovalOverride, error) {
	for _, o := range m.s.overrides {
		if o.IsActive && o.OverrideType == t {
			return o, nil
		}
	}
	return nil, nil
}
func (m *memOverrides) Update(ctx context.Context, o *entity.ApprovalOverride) error {
	m.s.overrides[o.ID] = o
	return nil
}
func (m *memOverrides) Deactivate(ctx context.Context, id int64) error {
	if o, ok := m.s.overrides[id]; ok {
		o.IsActive = false
	}
	return nil
}
func (m *memOverrides) ListActive(ctx context.Context) ([]*entity.ApprovalOverride, error) {
	var out []*entity.ApprovalOverride
	for _, o := range m.s.overrides {
		if o.IsActive {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
func (m *memOverrides) List(ctx context.Context) ([]*entity.ApprovalOverride, error) {
	var out []*entity.ApprovalOverride
	for _, o := range m.s.overrides {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memVersions struct{ s *memStore }

func (m *memVersions) Append(ctx context.Context, v *entity.MatrixVersion) error {
	v.ID = m.s.id()
	m.s.versions = append(m.s.versions, v)
	return nil
}
func (m *memVersions) Latest(ctx context.Context) (*entity.MatrixVersion, error) {
	if len(m.s.versions) == 0 {
		return nil, nil
	}
	return m.s.versions[len(m.s.versions)-1], nil
}
func (m *memVersions) List(ctx context.Context, limit int) ([]*entity.MatrixVersion, error) {
	return m.s.versions, nil
}

type memAudit struct{ s *memStore }

func (m *memAudit) Append(ctx context.Context, entry *entity.AuditLog) error {
	entry.ID = m.s.id()
	entry.CreatedAt = time.Now()
	m.s.audit = append(m.s.audit, entry)
	return nil
}
func (m *memAudit) List(ctx context.Context, entityType string, limit int) ([]*entity.AuditLog, error) {
	var out []*entity.AuditLog
	for i := len(m.s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if entityType == "" || m.s.audit[i].EntityType == entityType {
			out = append(out, m.s.audit[i])
		}
	}
	return out, nil
}
func (m *memAudit) ListByEntity(ctx context.Context, entityType string, entityID int64) ([]*entity.AuditLog, error) {
	var out []*entity.AuditLog
	for i := len(m.s.audit) - 1; i >= 0; i-- {
		if m.s.audit[i].EntityType == entityType && m.s.audit[i].EntityID == entityID {
			out = append(out, m.s.audit[i])
		}
	}
	return out, nil
}

type memWorkflows struct{ s *memStore }

func (m *memWorkflows) Create(ctx context.Context, wf *entity.ApprovalWorkflow) error {
	wf.ID = m.s.id()
	m.s.workflows[wf.ID] = wf
	return nil
}
func (m *memWorkflows) GetByID(ctx context.Context, id int64) (*entity.ApprovalWorkflow, error) {
	return m.s.workflows[id], nil
}
func (m *memWorkflows) GetByReference(ctx context.Context, category entity.Category, referenceID int64) (*entity.ApprovalWorkflow, error) {
	for _, wf := range m.s.workflows {
		if wf.Category == category && wf.ReferenceID == referenceID {
			return wf, nil
		}
	}
	return nil, nil
}
func (m *memWorkflows) Update(ctx context.Context, wf *entity.ApprovalWorkflow, expectedStatus string, expectedLevel int) error {
	m.s.workflows[wf.ID] = wf
	return nil
}
func (m *memWorkflows) ListByStatus(ctx context.Context, status string, limit int) ([]*entity.ApprovalWorkflow, error) {
	var out []*entity.ApprovalWorkflow
	for _, wf := range m.s.workflows {
		if wf.Status == status {
			out = append(out, wf)
		}
	}
	return out, nil
}
func (m *memWorkflows) ListPendingByRole(ctx context.Context, roleID int64, limit int) ([]*entity.ApprovalWorkflow, error) {
	var out []*entity.ApprovalWorkflow
	for _, wf := range m.s.workflows {
		if wf.Status != entity.StatusPending || wf.RuleID == nil {
			continue
		}
		rule := m.s.rules[*wf.RuleID]
		if rule == nil {
			continue
		}
		a := rule.ApproverAt(wf.CurrentLevel)
		if a != nil && a.ApprovalRoleID == roleID {
			out = append(out, wf)
		}
	}
	return out, nil
}

type memTx struct{}

func (memTx) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
