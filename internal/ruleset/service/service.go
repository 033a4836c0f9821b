// Package service implements ruleset lifecycle operations: upload with
// structural validation, lookups, and the publish/rollback coordinator.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rulegate/internal/audit"
	"rulegate/internal/ruleset/metrics"
	"rulegate/internal/ruleset/models"
	"rulegate/internal/ruleset/store"
	"rulegate/pkg/domain"
	dErrors "rulegate/pkg/domain-errors"
	"rulegate/pkg/platform/scopelock"
	"rulegate/pkg/platform/sentinel"
	"rulegate/pkg/requestcontext"
)

// AuditPublisher records lifecycle transitions.
type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
	EmitPair(ctx context.Context, first, second audit.Entry) error
}

// Service owns the ruleset lifecycle. Writers on the same (domain,
// jurisdiction) scope serialize through the keyed mutex; the store's swap
// operation keeps readers consistent underneath.
type Service struct {
	rulesets store.Store
	locks    *scopelock.KeyedMutex
	logger   *slog.Logger
	auditor  AuditPublisher
	metrics  *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(rulesets store.Store, opts ...Option) *Service {
	s := &Service{
		rulesets: rulesets,
		locks:    scopelock.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadRequest carries a new draft ruleset and its raw rule content.
type UploadRequest struct {
	Domain          string          `json:"domain"`
	Jurisdiction    string          `json:"jurisdiction"`
	RulesetVersion  string          `json:"ruleset_version"`
	RulebookVersion string          `json:"rulebook_version"`
	Content         json.RawMessage `json:"content"`
	Notes           string          `json:"notes,omitempty"`
	EffectiveFrom   *time.Time      `json:"effective_from,omitempty"`
	EffectiveTo     *time.Time      `json:"effective_to,omitempty"`
}

// UploadResult is the stored draft plus validation warnings that did not
// block the upload.
type UploadResult struct {
	Ruleset  *models.Ruleset `json:"ruleset"`
	Warnings []string        `json:"warnings,omitempty"`
}

// Upload validates and stores a draft ruleset. Content with structural
// defects is rejected outright and never persisted; warnings are returned to
// the caller and recorded on the audit trail.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	sum := sha256.Sum256(req.Content)
	checksum := hex.EncodeToString(sum[:])

	rules, warnings, err := models.ParseContent(req.Content)
	if err != nil {
		s.metrics.IncrementValidationFailure()
		s.metrics.IncrementUpload("rejected")

		var vErr *models.ValidationError
		if !errors.As(err, &vErr) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "content validation failed")
		}
		s.emitAudit(ctx, audit.Entry{
			SubjectType: audit.SubjectRuleset,
			SubjectID:   "sha256:" + checksum,
			Action:      audit.ActionValidate,
			Detail: map[string]any{
				"outcome":  "rejected",
				"defects":  vErr.Defects,
				"warnings": vErr.Warnings,
			},
		})

		domErr := dErrors.New(dErrors.CodeValidation, "ruleset content failed validation")
		dErrors.Add(domErr, "defects", vErr.Defects)
		if len(vErr.Warnings) > 0 {
			dErrors.Add(domErr, "warnings", vErr.Warnings)
		}
		return nil, domErr
	}

	rs, err := models.NewRuleset(
		domain.NewRulesetID(),
		models.ScopeKey{Domain: req.Domain, Jurisdiction: req.Jurisdiction},
		req.RulesetVersion,
		req.RulebookVersion,
		requestcontext.ActorID(ctx),
		requestcontext.Now(ctx),
	)
	if err != nil {
		s.metrics.IncrementUpload("rejected")
		return nil, err
	}
	rs.RuleCount = len(rules)
	rs.Notes = req.Notes
	rs.EffectiveFrom = req.EffectiveFrom
	rs.EffectiveTo = req.EffectiveTo
	rs.Content = models.ContentRef{
		Location: fmt.Sprintf("rulesets/%s.json", rs.ID),
		Checksum: checksum,
	}

	if err := s.rulesets.CreateIfVersionAvailable(ctx, rs, req.Content); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncrementUpload("rejected")
			return nil, dErrors.Newf(dErrors.CodeConflict,
				"version %q already exists for %s/%s", rs.RulesetVersion, rs.Domain, rs.Jurisdiction)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store ruleset")
	}

	s.emitAudit(ctx, audit.Entry{
		SubjectType: audit.SubjectRuleset,
		SubjectID:   rs.ID.String(),
		Action:      audit.ActionUpload,
		Detail: map[string]any{
			"version":    rs.RulesetVersion,
			"scope":      rs.Scope().Key(),
			"checksum":   checksum,
			"rule_count": rs.RuleCount,
			"warnings":   warnings,
		},
	})

	s.metrics.IncrementUpload("stored")
	s.logger.InfoContext(ctx, "ruleset uploaded",
		"ruleset_id", rs.ID,
		"scope", rs.Scope().Key(),
		"version", rs.RulesetVersion,
		"rule_count", rs.RuleCount,
		"warnings", len(warnings),
	)
	return &UploadResult{Ruleset: rs, Warnings: warnings}, nil
}

// Get returns one ruleset by ID.
func (s *Service) Get(ctx context.Context, id domain.RulesetID) (*models.Ruleset, error) {
	rs, err := s.rulesets.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "ruleset %s not found", id)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find ruleset")
	}
	return rs, nil
}

// GetContent returns the stored rule content blob.
func (s *Service) GetContent(ctx context.Context, id domain.RulesetID) ([]byte, error) {
	raw, err := s.rulesets.GetContent(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "ruleset %s not found", id)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load ruleset content")
	}
	return raw, nil
}

// GetActive returns the single active ruleset for a scope.
func (s *Service) GetActive(ctx context.Context, scope models.ScopeKey) (*models.Ruleset, error) {
	rs, err := s.rulesets.FindActive(ctx, normalizeScope(scope))
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNoActiveRuleset,
			"no active ruleset for %s/%s", scope.Domain, scope.Jurisdiction)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find active ruleset")
	}
	return rs, nil
}

// List returns rulesets matching the filter, newest first, plus the total
// match count for pagination.
func (s *Service) List(ctx context.Context, filter store.Filter, page store.Page) ([]*models.Ruleset, int, error) {
	filter.Domain = normalizeScope(models.ScopeKey{Domain: filter.Domain}).Domain
	filter.Jurisdiction = normalizeScope(models.ScopeKey{Jurisdiction: filter.Jurisdiction}).Jurisdiction
	out, total, err := s.rulesets.List(ctx, filter, page)
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "list rulesets")
	}
	return out, total, nil
}

func (s *Service) emitAudit(ctx context.Context, entry audit.Entry) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "audit write failed",
			"subject_id", entry.SubjectID,
			"action", entry.Action,
			"error", err,
		)
	}
}

func normalizeScope(scope models.ScopeKey) models.ScopeKey {
	scope.Domain = strings.TrimSpace(strings.ToLower(scope.Domain))
	scope.Jurisdiction = strings.TrimSpace(strings.ToLower(scope.Jurisdiction))
	return scope
}
