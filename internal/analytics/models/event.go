// Package models defines the policy application event, the immutable record
// of one resolve call that the analytics aggregator consumes.
package models

import (
	"time"

	"rulegate/pkg/domain"
)

// RuleChange is the before/after state of one rule result the resolver
// touched.
type RuleChange struct {
	RuleCode       string          `json:"rule_code"`
	BeforeSeverity domain.Severity `json:"before_severity"`
	AfterSeverity  domain.Severity `json:"after_severity,omitempty"`
	BeforePassed   bool            `json:"before_passed"`
	AfterPassed    bool            `json:"after_passed"`
	// Effect names what changed the result: an exception effect, or
	// "overlay" for stricter-check and severity-override adjustments.
	Effect string `json:"effect"`
	// Waived marks results removed from the final discrepancy list.
	Waived bool `json:"waived,omitempty"`
}

// ApplicationEvent captures one resolve call: which policy layers were
// consulted and every result they changed. Never mutated after creation.
type ApplicationEvent struct {
	ID             domain.EventID       `json:"id"`
	SessionRef     string               `json:"session_ref"`
	TenantID       domain.TenantID      `json:"tenant_id"`
	RulesetID      domain.RulesetID     `json:"ruleset_id"`
	RulesetVersion string               `json:"ruleset_version"`
	OverlayID      *domain.OverlayID    `json:"overlay_id,omitempty"`
	OverlayVersion *int                 `json:"overlay_version,omitempty"`
	ConsultedIDs   []domain.ExceptionID `json:"consulted_exception_ids,omitempty"`
	AppliedIDs     []domain.ExceptionID `json:"applied_exception_ids,omitempty"`
	RuleChanges    []RuleChange         `json:"rule_changes,omitempty"`
	PreCount       int                  `json:"pre_discrepancy_count"`
	PostCount      int                  `json:"post_discrepancy_count"`
	Timestamp      time.Time            `json:"timestamp"`
}
