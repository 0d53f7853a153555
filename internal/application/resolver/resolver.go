// Package resolver selects the single approval rule governing a document.
package resolver

import (
	"context"
	"fmt"

	"github.com/procurio/approval-engine/internal/application/port"
	"github.com/procurio/approval-engine/internal/domain/entity"
	"go.uber.org/zap"
)

// ResolvedRule is the outcome of a successful resolution. AutoApprove is set
// when the document amount falls under the rule's auto-approve threshold.
type ResolvedRule struct {
	Rule        *entity.ApprovalRule
	AutoApprove bool
}

// Resolver matches documents to approval rules by category, currency,
// department scope and amount band.
type Resolver struct {
	rules  port.RuleRepository
	logger *zap.Logger
}

// New creates a rule resolver
func New(rules port.RuleRepository, logger *zap.Logger) *Resolver {
	return &Resolver{rules: rules, logger: logger}
}

// Resolve selects exactly one applicable rule for the document attributes.
// Department-scoped rules take precedence over department-agnostic ones.
// More than one band containing the amount within the winning scope is a
// configuration integrity violation and fails with CodeAmbiguousRule; zero
// matches fail with CodeNoApplicableRule and the document stays blocked.
func (r *Resolver) Resolve(ctx context.Context, category entity.Category, amount float64, currency string, departmentID *int64) (*ResolvedRule, error) {
	candidates, err := r.rules.ListActiveByScope(ctx, category, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for %s/%s: %w", category, currency, err)
	}

	var scoped, global []*entity.ApprovalRule
	for _, rule := range candidates {
		if !rule.Contains(amount) {
			continue
		}
		switch {
		case rule.DepartmentID == nil:
			global = append(global, rule)
		case departmentID != nil && *rule.DepartmentID == *departmentID:
			scoped = append(scoped, rule)
		}
	}

	matches := global
	if len(scoped) > 0 {
		matches = scoped
	}

	switch len(matches) {
	case 0:
		return nil, &entity.ResolutionError{
			Code:         entity.CodeNoApplicableRule,
			Category:     category,
			Currency:     currency,
			Amount:       amount,
			DepartmentID: departmentID,
		}
	case 1:
		// fall through
	default:
		ids := make([]int64, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		r.logger.Error("Overlapping rule bands detected",
			zap.String("category", category.String()),
			zap.String("currency", currency),
			zap.Float64("amount", amount),
			zap.Int64s("rule_ids", ids))
		return nil, &entity.ResolutionError{
			Code:         entity.CodeAmbiguousRule,
			Category:     category,
			Currency:     currency,
			Amount:       amount,
			ConflictIDs:  ids,
			DepartmentID: departmentID,
		}
	}

	rule := matches[0]
	resolved := &ResolvedRule{
		Rule:        rule,
		AutoApprove: rule.AutoApproveBelow != nil && amount < *rule.AutoApproveBelow,
	}

	r.logger.Debug("Rule resolved",
		zap.Int64("rule_id", rule.ID),
		zap.Int("rule_version", rule.Version),
		zap.Bool("auto_approve", resolved.AutoApprove))

	return resolved, nil
}
