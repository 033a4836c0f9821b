// Package models defines scoped policy exceptions and their deterministic
// resolution order.
package models

import (
	"sort"
	"strings"
	"time"

	"rulegate/pkg/domain"
	dErrors "rulegate/pkg/domain-errors"
)

// Exception waives, downgrades, or overrides one rule's outcome for a slice
// of a tenant's traffic. Multiple exceptions may match the same rule and
// scope; ResolveWinner picks the one that applies.
type Exception struct {
	ID       domain.ExceptionID `json:"id"`
	TenantID domain.TenantID    `json:"tenant_id"`
	// RuleCode references a rule inside some ruleset. Existence is not
	// checked at creation time; the match is advisory.
	RuleCode string        `json:"rule_code"`
	Scope    domain.Scope  `json:"scope"`
	Effect   domain.Effect `json:"effect"`
	Reason   string        `json:"reason"`
	// OverrideSeverity and OverridePassed configure the override effect.
	// OverridePassed can flip a result in either direction, pass to fail
	// included.
	OverrideSeverity domain.Severity `json:"override_severity,omitempty"`
	OverridePassed   *bool           `json:"override_passed,omitempty"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	CreatedBy        string          `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
}

// NewException constructs a validated exception. Empty scope fields are
// normalized to match-all wildcards.
func NewException(
	id domain.ExceptionID,
	tenant domain.TenantID,
	ruleCode string,
	scope domain.Scope,
	effect domain.Effect,
	reason string,
	createdBy string,
	now time.Time,
) (*Exception, error) {
	ruleCode = strings.TrimSpace(ruleCode)
	reason = strings.TrimSpace(reason)

	if tenant == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "exception tenant cannot be empty")
	}
	if ruleCode == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "exception rule code is mandatory")
	}
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "exception reason is mandatory")
	}
	if !effect.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown exception effect %q", effect)
	}

	return &Exception{
		ID:        id,
		TenantID:  tenant,
		RuleCode:  ruleCode,
		Scope:     scope.Normalize(),
		Effect:    effect,
		Reason:    reason,
		CreatedBy: createdBy,
		CreatedAt: now,
	}, nil
}

// ValidateOverride checks the override payload once the effect is set.
func (e *Exception) ValidateOverride() error {
	if e.Effect != domain.EffectOverride {
		if e.OverrideSeverity != "" || e.OverridePassed != nil {
			return dErrors.Newf(dErrors.CodeValidation,
				"override outcome is only valid for the %q effect", domain.EffectOverride)
		}
		return nil
	}
	if e.OverrideSeverity == "" && e.OverridePassed == nil {
		return dErrors.New(dErrors.CodeValidation,
			"override exceptions need a severity or a pass/fail outcome")
	}
	if e.OverrideSeverity != "" && !e.OverrideSeverity.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown override severity %q", e.OverrideSeverity)
	}
	return nil
}

// IsActiveAt reports whether the exception has not expired at the instant.
func (e *Exception) IsActiveAt(at time.Time) bool {
	return e.ExpiresAt == nil || e.ExpiresAt.After(at)
}

// AppliesTo reports whether the exception matches a rule code and scope
// attributes at the instant.
func (e *Exception) AppliesTo(ruleCode string, attrs domain.Scope, at time.Time) bool {
	return e.IsActiveAt(at) && e.RuleCode == ruleCode && e.Scope.Matches(attrs)
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (e *Exception) Clone() *Exception {
	cp := *e
	if e.OverridePassed != nil {
		v := *e.OverridePassed
		cp.OverridePassed = &v
	}
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}

// SortByPrecedence orders exceptions by the fixed resolution order: effect
// rank descending (override > downgrade > waive), then scope specificity
// descending, then most recently created, then ID descending so the order is
// total and stable for identical timestamps.
func SortByPrecedence(matches []*Exception) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Effect.Rank() != b.Effect.Rank() {
			return a.Effect.Rank() > b.Effect.Rank()
		}
		if a.Scope.Specificity() != b.Scope.Specificity() {
			return a.Scope.Specificity() > b.Scope.Specificity()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.String() > b.ID.String()
	})
}

// ResolveWinner returns the exception that applies when several match one
// rule outcome, or nil for an empty set.
func ResolveWinner(matches []*Exception) *Exception {
	if len(matches) == 0 {
		return nil
	}
	sorted := append([]*Exception(nil), matches...)
	SortByPrecedence(sorted)
	return sorted[0]
}
