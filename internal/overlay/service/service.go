// Package service implements the overlay lifecycle: per-tenant drafts and the
// atomic publish that replaces a tenant's active configuration.
package service

import (
	"context"
	"errors"
	"log/slog"

	"rulegate/internal/audit"
	"rulegate/internal/overlay/metrics"
	"rulegate/internal/overlay/models"
	"rulegate/internal/overlay/store"
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

// Service owns the overlay lifecycle. Writers on the same tenant serialize
// through the keyed mutex; the store's replace operation keeps readers
// consistent underneath.
type Service struct {
	overlays store.Store
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

func New(overlays store.Store, opts ...Option) *Service {
	s := &Service{
		overlays: overlays,
		locks:    scopelock.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateDraft stores a new draft overlay with the tenant's next version
// number. Config problems that would block publishing are reported here too,
// so administrators learn about them before the publish attempt.
func (s *Service) CreateDraft(ctx context.Context, tenant domain.TenantID, config models.Config) (*models.Overlay, error) {
	o, err := models.NewOverlay(
		domain.NewOverlayID(), tenant, config,
		requestcontext.ActorID(ctx), requestcontext.Now(ctx),
	)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(tenant.String())
	defer unlock()

	if err := s.overlays.Create(ctx, o); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "concurrent overlay draft for tenant, retry")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store overlay")
	}

	s.emitAudit(ctx, audit.Entry{
		SubjectType: audit.SubjectOverlay,
		SubjectID:   o.ID.String(),
		Action:      audit.ActionCreate,
		Detail: map[string]any{
			"tenant":  tenant.String(),
			"version": o.Version,
		},
	})
	s.metrics.IncrementDraft()
	s.logger.InfoContext(ctx, "overlay draft created",
		"overlay_id", o.ID,
		"tenant", tenant,
		"version", o.Version,
	)
	return o, nil
}

// Publish activates a draft overlay, superseding whichever overlay the tenant
// had active. Readers observe either the old or the new configuration, never
// both or neither.
func (s *Service) Publish(ctx context.Context, id domain.OverlayID) (*models.Overlay, error) {
	target, err := s.overlays.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "overlay %s not found", id)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find overlay")
	}

	unlock := s.locks.Lock(target.TenantID.String())
	defer unlock()

	updated, displaced, err := s.overlays.ExecuteReplace(ctx, id,
		func(target, _ *models.Overlay) error { return target.CanPublish() },
		func(target, current *models.Overlay) {
			target.ApplyActivate(requestcontext.Now(ctx), requestcontext.ActorID(ctx))
			if current != nil {
				current.ApplySupersede()
			}
		},
	)
	if err != nil {
		s.metrics.IncrementPublish("rejected")
		var de *dErrors.Error
		if errors.As(err, &de) {
			return nil, err
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "overlay %s not found", id)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "overlay replace")
	}

	if err := s.recordPublish(ctx, updated, displaced); err != nil {
		s.metrics.IncrementPublish("audit_failed")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record audit trail")
	}

	s.metrics.IncrementPublish("applied")
	attrs := []any{
		"overlay_id", updated.ID,
		"tenant", updated.TenantID,
		"version", updated.Version,
	}
	if displaced != nil {
		attrs = append(attrs, "superseded_id", displaced.ID)
	}
	s.logger.InfoContext(ctx, "overlay published", attrs...)
	return updated, nil
}

// Get returns one overlay by ID.
func (s *Service) Get(ctx context.Context, id domain.OverlayID) (*models.Overlay, error) {
	o, err := s.overlays.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "overlay %s not found", id)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find overlay")
	}
	return o, nil
}

// GetActive returns the tenant's active overlay.
func (s *Service) GetActive(ctx context.Context, tenant domain.TenantID) (*models.Overlay, error) {
	o, err := s.overlays.FindActive(ctx, tenant)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "no active overlay for tenant %s", tenant)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find active overlay")
	}
	return o, nil
}

// List returns the tenant's overlay history, newest version first.
func (s *Service) List(ctx context.Context, tenant domain.TenantID) ([]*models.Overlay, error) {
	out, err := s.overlays.ListByTenant(ctx, tenant)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list overlays")
	}
	return out, nil
}

// recordPublish writes the audit trail. A displaced overlay gets its own
// entry, written atomically with the publish entry.
func (s *Service) recordPublish(ctx context.Context, updated, displaced *models.Overlay) error {
	if s.auditor == nil {
		return nil
	}

	publish := audit.Entry{
		ID:          domain.NewAuditID(),
		SubjectType: audit.SubjectOverlay,
		SubjectID:   updated.ID.String(),
		Action:      audit.ActionPublish,
		Detail: map[string]any{
			"tenant":  updated.TenantID.String(),
			"version": updated.Version,
		},
	}

	if displaced == nil {
		return s.auditor.Emit(ctx, publish)
	}

	supersede := audit.Entry{
		ID:          domain.NewAuditID(),
		SubjectType: audit.SubjectOverlay,
		SubjectID:   displaced.ID.String(),
		Action:      audit.ActionArchive,
		Detail: map[string]any{
			"tenant":                 displaced.TenantID.String(),
			"version":                displaced.Version,
			"displaced_by":           updated.ID.String(),
			audit.DetailRelatedEntry: publish.ID.String(),
		},
	}
	publish.Detail[audit.DetailDisplaced] = displaced.ID.String()
	publish.Detail[audit.DetailRelatedEntry] = supersede.ID.String()

	return s.auditor.EmitPair(ctx, supersede, publish)
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
