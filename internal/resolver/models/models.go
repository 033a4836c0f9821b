// Package models defines the resolve call contract: raw rule results in,
// effective policy-adjusted results out.
package models

import (
	"time"

	"rulegate/pkg/domain"
)

// RuleResult is one rule outcome, either supplied raw by the
// document-validation executor or injected synthetically by an overlay
// stricter check.
type RuleResult struct {
	RuleCode    string          `json:"rule_code"`
	Description string          `json:"description,omitempty"`
	Severity    domain.Severity `json:"severity,omitempty"`
	Passed      bool            `json:"passed"`
	Synthetic   bool            `json:"synthetic,omitempty"`
}

// ResolveRequest is the executor's call contract. ScopeAttributes requires
// the client key; branch and product default to match-all. PresentedDocuments,
// DateSlippageDays, and Amount feed the overlay stricter checks; the engine
// never inspects documents itself.
type ResolveRequest struct {
	Domain             string            `json:"domain"`
	Jurisdiction       string            `json:"jurisdiction"`
	Tenant             domain.TenantID   `json:"tenant"`
	SessionRef         string            `json:"session_ref"`
	ScopeAttributes    map[string]string `json:"scope_attributes"`
	RawResults         []RuleResult      `json:"raw_results"`
	PresentedDocuments []string          `json:"presented_documents,omitempty"`
	DateSlippageDays   *int              `json:"date_slippage_days,omitempty"`
	Amount             *float64          `json:"amount,omitempty"`
	At                 *time.Time        `json:"at,omitempty"`
}

// Summary counts discrepancies before and after policy application.
type Summary struct {
	PreDiscrepancies  int            `json:"pre_discrepancies"`
	PostDiscrepancies int            `json:"post_discrepancies"`
	BySeverity        map[string]int `json:"by_severity"`
}

// EffectiveResult is the composed, policy-adjusted outcome of one resolve
// call. Waived results are removed from Results but listed in Waived so the
// caller can still display them.
type EffectiveResult struct {
	RulesetID      domain.RulesetID     `json:"ruleset_id"`
	RulesetVersion string               `json:"ruleset_version"`
	OverlayID      *domain.OverlayID    `json:"overlay_id,omitempty"`
	OverlayVersion *int                 `json:"overlay_version,omitempty"`
	Results        []RuleResult         `json:"results"`
	Waived         []RuleResult         `json:"waived,omitempty"`
	ConsultedIDs   []domain.ExceptionID `json:"consulted_exception_ids,omitempty"`
	AppliedIDs     []domain.ExceptionID `json:"applied_exception_ids,omitempty"`
	Summary        Summary              `json:"summary"`
	// Warnings report degraded composition: overlay or exception lookups
	// that failed, leaving the results raw for those layers.
	Warnings []string `json:"warnings,omitempty"`
}
