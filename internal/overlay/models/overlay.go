// Package models defines the per-tenant policy overlay and its lifecycle.
package models

import (
	"time"

	"rulegate/pkg/domain"
	dErrors "rulegate/pkg/domain-errors"
)

// Status is the overlay lifecycle state. Publishing a new overlay supersedes
// the tenant's prior active one; superseded records stay visible in history.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
)

// StricterChecks tightens the base ruleset for one tenant. Nil pointers and
// empty slices mean "no tightening" for that check.
type StricterChecks struct {
	MaxDateSlippageDays *int     `json:"max_date_slippage_days,omitempty"`
	MandatoryDocuments  []string `json:"mandatory_documents,omitempty"`
	RequireExpiryDate   bool     `json:"require_expiry_date"`
	MinAmountThreshold  *float64 `json:"min_amount_threshold,omitempty"`
}

// Thresholds adjusts how discrepancies are graded and escalated.
type Thresholds struct {
	// SeverityOverride forces every discrepancy to this severity. Only
	// critical and major are sensible targets; anything else is rejected at
	// publish time. Empty means no override.
	SeverityOverride     domain.Severity `json:"severity_override,omitempty"`
	AutoRejectConditions []string        `json:"auto_reject_conditions,omitempty"`
}

// Config is the overlay payload: stricter checks plus grading thresholds.
type Config struct {
	StricterChecks StricterChecks `json:"stricter_checks"`
	Thresholds     Thresholds     `json:"thresholds"`
}

// Validate enforces the publishable-config rules.
func (c Config) Validate() error {
	switch c.Thresholds.SeverityOverride {
	case "", domain.SeverityCritical, domain.SeverityMajor:
	default:
		return dErrors.Newf(dErrors.CodeValidation,
			"severity override must be %q or %q, got %q",
			domain.SeverityCritical, domain.SeverityMajor, c.Thresholds.SeverityOverride)
	}
	if c.StricterChecks.MaxDateSlippageDays != nil && *c.StricterChecks.MaxDateSlippageDays < 0 {
		return dErrors.New(dErrors.CodeValidation, "max date slippage cannot be negative")
	}
	if c.StricterChecks.MinAmountThreshold != nil && *c.StricterChecks.MinAmountThreshold < 0 {
		return dErrors.New(dErrors.CodeValidation, "minimum amount threshold cannot be negative")
	}
	return nil
}

// Overlay is one version of a tenant's stricter-check configuration.
//
// Invariants:
//   - Version is monotonic per tenant, assigned by the store on create.
//   - At most one overlay per tenant is active at any instant.
//   - Config is never edited once the overlay leaves draft.
type Overlay struct {
	ID          domain.OverlayID `json:"id"`
	TenantID    domain.TenantID  `json:"tenant_id"`
	Version     int              `json:"version"`
	Config      Config           `json:"config"`
	Status      Status           `json:"status"`
	CreatedBy   string           `json:"created_by"`
	CreatedAt   time.Time        `json:"created_at"`
	PublishedBy string           `json:"published_by,omitempty"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
}

// NewOverlay constructs a draft overlay. The store assigns Version.
func NewOverlay(id domain.OverlayID, tenant domain.TenantID, config Config, createdBy string, now time.Time) (*Overlay, error) {
	if tenant == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "overlay tenant cannot be empty")
	}
	return &Overlay{
		ID:        id,
		TenantID:  tenant,
		Config:    config,
		Status:    StatusDraft,
		CreatedBy: createdBy,
		CreatedAt: now,
	}, nil
}

func (o *Overlay) IsActive() bool { return o.Status == StatusActive }

// CanPublish checks the draft→active transition and that the config is
// publishable.
func (o *Overlay) CanPublish() error {
	switch o.Status {
	case StatusActive:
		return dErrors.New(dErrors.CodeAlreadyActive, "overlay is already active")
	case StatusSuperseded:
		return dErrors.New(dErrors.CodeInvariantViolation, "superseded overlays cannot be re-published; create a new draft")
	}
	return o.Config.Validate()
}

// ApplyActivate transitions the overlay to active.
func (o *Overlay) ApplyActivate(now time.Time, actor string) {
	o.Status = StatusActive
	o.PublishedBy = actor
	o.PublishedAt = &now
}

// ApplySupersede marks a displaced overlay. Its config stays readable.
func (o *Overlay) ApplySupersede() {
	o.Status = StatusSuperseded
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (o *Overlay) Clone() *Overlay {
	cp := *o
	if o.Config.StricterChecks.MaxDateSlippageDays != nil {
		v := *o.Config.StricterChecks.MaxDateSlippageDays
		cp.Config.StricterChecks.MaxDateSlippageDays = &v
	}
	if o.Config.StricterChecks.MinAmountThreshold != nil {
		v := *o.Config.StricterChecks.MinAmountThreshold
		cp.Config.StricterChecks.MinAmountThreshold = &v
	}
	cp.Config.StricterChecks.MandatoryDocuments = append([]string(nil), o.Config.StricterChecks.MandatoryDocuments...)
	cp.Config.Thresholds.AutoRejectConditions = append([]string(nil), o.Config.Thresholds.AutoRejectConditions...)
	if o.PublishedAt != nil {
		t := *o.PublishedAt
		cp.PublishedAt = &t
	}
	return &cp
}
