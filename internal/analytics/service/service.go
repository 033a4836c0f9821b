// Package service aggregates audit entries, application events, and store
// snapshots into the analytics report consumed by administrative tooling.
package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"rulegate/internal/analytics/models"
	"rulegate/internal/analytics/store"
	"rulegate/internal/audit"
	exceptionmodels "rulegate/internal/exception/models"
	overlaymodels "rulegate/internal/overlay/models"
	"rulegate/pkg/domain"
	dErrors "rulegate/pkg/domain-errors"
	"rulegate/pkg/requestcontext"
)

// OverlayReader exposes the overlay adoption snapshot.
type OverlayReader interface {
	ListActive(ctx context.Context) ([]*overlaymodels.Overlay, error)
}

// ExceptionReader exposes the full exception inventory.
type ExceptionReader interface {
	ListAll(ctx context.Context) ([]*exceptionmodels.Exception, error)
}

// AuditLister exposes the audit trail for transition counting.
type AuditLister interface {
	List(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)
}

type Service struct {
	events     store.Store
	overlays   OverlayReader
	exceptions ExceptionReader
	auditTrail AuditLister
	logger     *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(events store.Store, overlays OverlayReader, exceptions ExceptionReader, auditTrail AuditLister, opts ...Option) *Service {
	s := &Service{
		events:     events,
		overlays:   overlays,
		exceptions: exceptions,
		auditTrail: auditTrail,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OverlayStats summarizes overlay activity in the window.
type OverlayStats struct {
	Publishes     int `json:"publishes"`
	ActiveTenants int `json:"active_tenants"`
}

// ExceptionStats summarizes the exception inventory at report time.
type ExceptionStats struct {
	Total    int            `json:"total"`
	ByEffect map[string]int `json:"by_effect"`
	Active   int            `json:"active"`
	Expired  int            `json:"expired"`
}

// ImpactMetrics summarizes how much policy changed validation outcomes in the
// window.
type ImpactMetrics struct {
	Resolutions           int `json:"resolutions"`
	PreDiscrepancies      int `json:"pre_discrepancies"`
	PostDiscrepancies     int `json:"post_discrepancies"`
	DiscrepanciesResolved int `json:"discrepancies_resolved"`
	Waived                int `json:"waived"`
	Downgraded            int `json:"downgraded"`
	Overridden            int `json:"overridden"`
	OverlayAdjustments    int `json:"overlay_adjustments"`
}

// TopException is one entry of the most-applied ranking.
type TopException struct {
	ExceptionID  domain.ExceptionID `json:"exception_id"`
	RuleCode     string             `json:"rule_code,omitempty"`
	Effect       string             `json:"effect,omitempty"`
	Applications int                `json:"applications"`
}

// OverlayAdoption is one tenant's active overlay.
type OverlayAdoption struct {
	TenantID  domain.TenantID  `json:"tenant_id"`
	OverlayID domain.OverlayID `json:"overlay_id"`
	Version   int              `json:"version"`
}

// Report is the full analytics payload for one time window.
type Report struct {
	From            time.Time         `json:"from,omitempty"`
	To              time.Time         `json:"to,omitempty"`
	OverlayStats    OverlayStats      `json:"overlay_stats"`
	ExceptionStats  ExceptionStats    `json:"exception_stats"`
	ImpactMetrics   ImpactMetrics     `json:"impact_metrics"`
	TopExceptions   []TopException    `json:"top_exceptions"`
	OverlayAdoption []OverlayAdoption `json:"overlay_adoption"`
}

const topExceptionLimit = 5

// GetAnalytics builds the report for [from, to). Zero bounds are open.
func (s *Service) GetAnalytics(ctx context.Context, from, to time.Time) (*Report, error) {
	events, err := s.events.ListRange(ctx, from, to)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load application events")
	}
	activeOverlays, err := s.overlays.ListActive(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load active overlays")
	}
	exceptions, err := s.exceptions.ListAll(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load exceptions")
	}
	publishes, err := s.auditTrail.List(ctx, audit.Filter{
		SubjectType: audit.SubjectOverlay,
		Action:      audit.ActionPublish,
		From:        from,
		To:          to,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load audit trail")
	}

	report := &Report{
		From: from,
		To:   to,
		OverlayStats: OverlayStats{
			Publishes:     len(publishes),
			ActiveTenants: len(activeOverlays),
		},
		ExceptionStats:  exceptionStats(exceptions, requestcontext.Now(ctx)),
		ImpactMetrics:   impactMetrics(events),
		TopExceptions:   topExceptions(events, exceptions),
		OverlayAdoption: overlayAdoption(activeOverlays),
	}

	s.logger.InfoContext(ctx, "analytics report built",
		"events", len(events),
		"active_overlays", len(activeOverlays),
		"exceptions", len(exceptions),
	)
	return report, nil
}

func exceptionStats(exceptions []*exceptionmodels.Exception, now time.Time) ExceptionStats {
	stats := ExceptionStats{
		Total:    len(exceptions),
		ByEffect: make(map[string]int),
	}
	for _, e := range exceptions {
		stats.ByEffect[string(e.Effect)]++
		if e.IsActiveAt(now) {
			stats.Active++
		} else {
			stats.Expired++
		}
	}
	return stats
}

func impactMetrics(events []models.ApplicationEvent) ImpactMetrics {
	m := ImpactMetrics{Resolutions: len(events)}
	for _, ev := range events {
		m.PreDiscrepancies += ev.PreCount
		m.PostDiscrepancies += ev.PostCount
		for _, ch := range ev.RuleChanges {
			switch {
			case ch.Waived:
				m.Waived++
			case ch.Effect == string(domain.EffectDowngrade):
				m.Downgraded++
			case ch.Effect == string(domain.EffectOverride):
				m.Overridden++
			default:
				m.OverlayAdjustments++
			}
		}
	}
	m.DiscrepanciesResolved = m.PreDiscrepancies - m.PostDiscrepancies
	return m
}

func topExceptions(events []models.ApplicationEvent, exceptions []*exceptionmodels.Exception) []TopException {
	counts := make(map[domain.ExceptionID]int)
	for _, ev := range events {
		for _, id := range ev.AppliedIDs {
			counts[id]++
		}
	}

	byID := make(map[domain.ExceptionID]*exceptionmodels.Exception, len(exceptions))
	for _, e := range exceptions {
		byID[e.ID] = e
	}

	out := make([]TopException, 0, len(counts))
	for id, n := range counts {
		entry := TopException{ExceptionID: id, Applications: n}
		// Deleted exceptions keep their id and count but lose the detail.
		if e, ok := byID[id]; ok {
			entry.RuleCode = e.RuleCode
			entry.Effect = string(e.Effect)
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Applications != out[j].Applications {
			return out[i].Applications > out[j].Applications
		}
		return out[i].ExceptionID.String() < out[j].ExceptionID.String()
	})
	if len(out) > topExceptionLimit {
		out = out[:topExceptionLimit]
	}
	return out
}

func overlayAdoption(overlays []*overlaymodels.Overlay) []OverlayAdoption {
	out := make([]OverlayAdoption, 0, len(overlays))
	for _, o := range overlays {
		out = append(out, OverlayAdoption{
			TenantID:  o.TenantID,
			OverlayID: o.ID,
			Version:   o.Version,
		})
	}
	return out
}
