// Package service implements exception creation, deletion, and the active-set
// lookup consumed by the policy resolver.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"rulegate/internal/audit"
	"rulegate/internal/exception/metrics"
	"rulegate/internal/exception/models"
	"rulegate/internal/exception/store"
	"rulegate/pkg/domain"
	dErrors "rulegate/pkg/domain-errors"
	"rulegate/pkg/platform/sentinel"
	"rulegate/pkg/requestcontext"
)

// AuditPublisher records exception edits.
type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

type Service struct {
	exceptions store.Store
	logger     *slog.Logger
	auditor    AuditPublisher
	metrics    *metrics.Metrics
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

func New(exceptions store.Store, opts ...Option) *Service {
	s := &Service{
		exceptions: exceptions,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest carries a new exception. Scope fields left empty become
// match-all wildcards.
type CreateRequest struct {
	RuleCode         string          `json:"rule_code"`
	Scope            domain.Scope    `json:"scope"`
	Effect           domain.Effect   `json:"effect"`
	Reason           string          `json:"reason"`
	OverrideSeverity domain.Severity `json:"override_severity,omitempty"`
	OverridePassed   *bool           `json:"override_passed,omitempty"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
}

// Create validates and stores an exception.
func (s *Service) Create(ctx context.Context, tenant domain.TenantID, req CreateRequest) (*models.Exception, error) {
	e, err := models.NewException(
		domain.NewExceptionID(), tenant, req.RuleCode, req.Scope, req.Effect, req.Reason,
		requestcontext.ActorID(ctx), requestcontext.Now(ctx),
	)
	if err != nil {
		return nil, err
	}
	e.OverrideSeverity = req.OverrideSeverity
	e.OverridePassed = req.OverridePassed
	e.ExpiresAt = req.ExpiresAt
	if err := e.ValidateOverride(); err != nil {
		return nil, err
	}

	if err := s.exceptions.Create(ctx, e); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store exception")
	}

	s.emitAudit(ctx, audit.Entry{
		SubjectType: audit.SubjectException,
		SubjectID:   e.ID.String(),
		Action:      audit.ActionCreate,
		Detail: map[string]any{
			"tenant":    tenant.String(),
			"rule_code": e.RuleCode,
			"effect":    string(e.Effect),
			"scope":     e.Scope,
		},
	})
	s.metrics.IncrementCreate(string(e.Effect))
	s.logger.InfoContext(ctx, "exception created",
		"exception_id", e.ID,
		"tenant", tenant,
		"rule_code", e.RuleCode,
		"effect", e.Effect,
	)
	return e, nil
}

// Delete removes an exception permanently. The deletion is recorded on the
// audit trail with the full record so history survives the hard delete.
func (s *Service) Delete(ctx context.Context, id domain.ExceptionID) error {
	e, err := s.exceptions.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Newf(dErrors.CodeNotFound, "exception %s not found", id)
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "find exception")
	}

	if err := s.exceptions.Delete(ctx, id); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "exception %s not found", id)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete exception")
	}

	s.emitAudit(ctx, audit.Entry{
		SubjectType: audit.SubjectException,
		SubjectID:   id.String(),
		Action:      audit.ActionDelete,
		Detail: map[string]any{
			"tenant":    e.TenantID.String(),
			"rule_code": e.RuleCode,
			"effect":    string(e.Effect),
			"reason":    e.Reason,
		},
	})
	s.metrics.IncrementDelete()
	s.logger.InfoContext(ctx, "exception deleted",
		"exception_id", id,
		"tenant", e.TenantID,
		"rule_code", e.RuleCode,
	)
	return nil
}

// ListActive returns the tenant's non-expired exceptions matching the query.
func (s *Service) ListActive(ctx context.Context, tenant domain.TenantID, q store.Query) ([]*models.Exception, error) {
	if q.At.IsZero() {
		q.At = requestcontext.Now(ctx)
	}
	out, err := s.exceptions.ListActive(ctx, tenant, q)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list exceptions")
	}
	return out, nil
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
