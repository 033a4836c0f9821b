// Package models defines the Ruleset aggregate and its lifecycle.
package models

import (
	"fmt"
	"strings"
	"time"

	"rulegate/pkg/domain"
	dErrors "rulegate/pkg/domain-errors"
)

// Status is the ruleset lifecycle state.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// ParseStatus validates a status string; "" is allowed for filters.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusDraft, StatusActive, StatusArchived, "":
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown ruleset status: %q", s)
	}
}

// ScopeKey identifies the (domain, jurisdiction) pair a ruleset governs.
// At most one ruleset is active per scope key at any instant.
type ScopeKey struct {
	Domain       string `json:"domain"`
	Jurisdiction string `json:"jurisdiction"`
}

// Key renders the scope as a lock/index key.
func (k ScopeKey) Key() string {
	return k.Domain + "/" + k.Jurisdiction
}

// ContentRef points at the stored rule content blob.
type ContentRef struct {
	Location string `json:"location"`
	Checksum string `json:"checksum"`
}

// Ruleset is a versioned, immutable bundle of compliance rules for one
// regulatory domain and jurisdiction.
//
// Invariants:
//   - RulesetVersion is unique within (Domain, Jurisdiction)
//   - Status transitions: draft→active (publish), active→archived
//     (displaced), archived→active (rollback). archived→draft and
//     active→draft are forbidden.
//   - Content is never edited once the ruleset leaves draft; archival is the
//     terminal non-active state, records are never physically deleted.
type Ruleset struct {
	ID              domain.RulesetID `json:"id"`
	Domain          string           `json:"domain"`
	Jurisdiction    string           `json:"jurisdiction"`
	RulesetVersion  string           `json:"ruleset_version"`
	RulebookVersion string           `json:"rulebook_version"`
	Content         ContentRef       `json:"content"`
	Status          Status           `json:"status"`
	RuleCount       int              `json:"rule_count"`
	EffectiveFrom   *time.Time       `json:"effective_from,omitempty"`
	EffectiveTo     *time.Time       `json:"effective_to,omitempty"`
	CreatedBy       string           `json:"created_by"`
	CreatedAt       time.Time        `json:"created_at"`
	PublishedBy     string           `json:"published_by,omitempty"`
	PublishedAt     *time.Time       `json:"published_at,omitempty"`
	Notes           string           `json:"notes,omitempty"`
}

// NewRuleset constructs a draft ruleset, validating identity fields.
func NewRuleset(id domain.RulesetID, scope ScopeKey, version, rulebookVersion string, createdBy string, now time.Time) (*Ruleset, error) {
	scope.Domain = strings.TrimSpace(strings.ToLower(scope.Domain))
	scope.Jurisdiction = strings.TrimSpace(strings.ToLower(scope.Jurisdiction))
	version = strings.TrimSpace(version)

	if scope.Domain == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "ruleset domain cannot be empty")
	}
	if scope.Jurisdiction == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "ruleset jurisdiction cannot be empty")
	}
	if version == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "ruleset version cannot be empty")
	}

	return &Ruleset{
		ID:              id,
		Domain:          scope.Domain,
		Jurisdiction:    scope.Jurisdiction,
		RulesetVersion:  version,
		RulebookVersion: strings.TrimSpace(rulebookVersion),
		Status:          StatusDraft,
		CreatedBy:       createdBy,
		CreatedAt:       now,
	}, nil
}

// Scope returns the ruleset's scope key.
func (r *Ruleset) Scope() ScopeKey {
	return ScopeKey{Domain: r.Domain, Jurisdiction: r.Jurisdiction}
}

func (r *Ruleset) IsActive() bool { return r.Status == StatusActive }

// CanPublish checks the draft→active transition. Archived rulesets must go
// through rollback so the transition is recorded as such.
func (r *Ruleset) CanPublish() error {
	switch r.Status {
	case StatusActive:
		return dErrors.New(dErrors.CodeAlreadyActive, "ruleset is already active")
	case StatusArchived:
		return dErrors.New(dErrors.CodeInvariantViolation, "archived ruleset cannot be published; use rollback")
	default:
		return nil
	}
}

// CanRollback checks the archived→active transition.
func (r *Ruleset) CanRollback() error {
	switch r.Status {
	case StatusActive:
		return dErrors.New(dErrors.CodeAlreadyActive, "ruleset is already active")
	case StatusDraft:
		return dErrors.New(dErrors.CodeNotArchived, "only archived rulesets can be rolled back")
	default:
		return nil
	}
}

// ApplyActivate transitions the ruleset to active, stamping the publisher.
// Call CanPublish or CanRollback first.
func (r *Ruleset) ApplyActivate(now time.Time, actor string) {
	r.Status = StatusActive
	r.PublishedBy = actor
	r.PublishedAt = &now
}

// ApplyArchive transitions a displaced ruleset to archived.
func (r *Ruleset) ApplyArchive() {
	r.Status = StatusArchived
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (r *Ruleset) Clone() *Ruleset {
	cp := *r
	if r.EffectiveFrom != nil {
		t := *r.EffectiveFrom
		cp.EffectiveFrom = &t
	}
	if r.EffectiveTo != nil {
		t := *r.EffectiveTo
		cp.EffectiveTo = &t
	}
	if r.PublishedAt != nil {
		t := *r.PublishedAt
		cp.PublishedAt = &t
	}
	return &cp
}
