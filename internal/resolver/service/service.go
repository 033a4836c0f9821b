// Package service implements the policy resolver: the read path that composes
// the active ruleset, the tenant's overlay, and matching exceptions into one
// effective decision set for the document-validation executor.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	analyticsmodels "rulegate/internal/analytics/models"
	exceptionmodels "rulegate/internal/exception/models"
	exceptionstore "rulegate/internal/exception/store"
	overlaymodels "rulegate/internal/overlay/models"
	"rulegate/internal/resolver/cache"
	"rulegate/internal/resolver/metrics"
	"rulegate/internal/resolver/models"
	rulesetmodels "rulegate/internal/ruleset/models"
	"rulegate/pkg/domain"
	dErrors "rulegate/pkg/domain-errors"
	"rulegate/pkg/platform/sentinel"
	"rulegate/pkg/requestcontext"
)

// RulesetSource is the slice of the ruleset store the resolver reads.
type RulesetSource interface {
	FindActive(ctx context.Context, scope rulesetmodels.ScopeKey) (*rulesetmodels.Ruleset, error)
	GetContent(ctx context.Context, id domain.RulesetID) ([]byte, error)
}

// OverlaySource is the slice of the overlay store the resolver reads.
type OverlaySource interface {
	FindActive(ctx context.Context, tenant domain.TenantID) (*overlaymodels.Overlay, error)
}

// ExceptionSource is the slice of the exception store the resolver reads.
type ExceptionSource interface {
	ListActive(ctx context.Context, tenant domain.TenantID, q exceptionstore.Query) ([]*exceptionmodels.Exception, error)
}

// EventRecorder persists the application event of one resolve call.
type EventRecorder interface {
	Append(ctx context.Context, ev analyticsmodels.ApplicationEvent) error
}

// Service is the policy resolver. All lookups happen in the prefetch phase;
// composition is a pure function, so no lock is ever held across I/O.
type Service struct {
	rulesets   RulesetSource
	overlays   OverlaySource
	exceptions ExceptionSource
	events     EventRecorder
	content    *cache.ContentCache
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithContentCache attaches the parsed-content cache. Without it every
// resolve parses the content blob from the store.
func WithContentCache(c *cache.ContentCache) Option {
	return func(s *Service) { s.content = c }
}

// WithEventRecorder attaches the application-event sink.
func WithEventRecorder(rec EventRecorder) Option {
	return func(s *Service) { s.events = rec }
}

func New(rulesets RulesetSource, overlays OverlaySource, exceptions ExceptionSource, opts ...Option) *Service {
	s := &Service{
		rulesets:   rulesets,
		overlays:   overlays,
		exceptions: exceptions,
		logger:     slog.Default(),
		tracer:     otel.Tracer("rulegate/resolver"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// prefetched is the consistent snapshot composition works from. Each fetch
// goroutine owns one warning field; warnings() assembles them after the group
// finishes so nothing is shared while the fetches run.
type prefetched struct {
	ruleset    *rulesetmodels.Ruleset
	rules      map[string]rulesetmodels.Rule
	overlay    *overlaymodels.Overlay
	exceptions []*exceptionmodels.Exception

	contentWarning   string
	overlayWarning   string
	exceptionWarning string
}

// degraded reports whether a policy layer lookup failed. Missing ruleset
// content only degrades enrichment, not composition.
func (p *prefetched) degraded() bool {
	return p.overlayWarning != "" || p.exceptionWarning != ""
}

func (p *prefetched) warnings() []string {
	var out []string
	for _, w := range []string{p.contentWarning, p.overlayWarning, p.exceptionWarning} {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// Resolve composes the effective policy for one validation session. Identical
// input always yields identical output. On overlay or exception lookup
// failure the raw results are returned unmodified, tagged with a warning, so
// the caller can choose best-effort results over a hard failure; a missing
// active ruleset is always a hard failure.
func (s *Service) Resolve(ctx context.Context, req models.ResolveRequest) (*models.EffectiveResult, error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "resolver.Resolve")
	defer span.End()

	attrs, err := scopeFromAttributes(req.ScopeAttributes)
	if err != nil {
		s.metrics.IncrementResolve("invalid_scope")
		return nil, err
	}

	at := requestcontext.Now(ctx)
	if req.At != nil {
		at = *req.At
	}

	pre, err := s.prefetch(ctx, req, at)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNoActiveRuleset) {
			s.metrics.IncrementResolve("no_active_ruleset")
		}
		return nil, err
	}

	res := &models.EffectiveResult{
		RulesetID:      pre.ruleset.ID,
		RulesetVersion: pre.ruleset.RulesetVersion,
		Warnings:       pre.warnings(),
	}
	if pre.overlay != nil {
		res.OverlayID = &pre.overlay.ID
		v := pre.overlay.Version
		res.OverlayVersion = &v
	}

	if pre.degraded() {
		// All-or-nothing: a failed layer lookup means no policy is applied
		// at all, never a partial composition.
		res.Results = append([]models.RuleResult(nil), req.RawResults...)
		res.OverlayID = nil
		res.OverlayVersion = nil
		res.Summary = models.Summary{
			PreDiscrepancies:  countFailing(res.Results),
			PostDiscrepancies: countFailing(res.Results),
			BySeverity:        severityCounts(res.Results),
		}
		s.metrics.IncrementResolve("degraded")
		s.logger.WarnContext(ctx, "resolve degraded to raw results",
			"tenant", req.Tenant,
			"session_ref", req.SessionRef,
			"warnings", res.Warnings,
		)
		return res, nil
	}

	_, composeSpan := s.tracer.Start(ctx, "resolver.compose")
	out := compose(composeInput{
		req:        req,
		rules:      pre.rules,
		overlay:    pre.overlay,
		exceptions: pre.exceptions,
		attrs:      attrs,
		at:         at,
	})
	composeSpan.End()

	res.Results = out.results
	res.Waived = out.waived
	res.ConsultedIDs = out.consulted
	res.AppliedIDs = out.applied
	res.Summary = out.summary

	s.recordEvent(ctx, req, pre, out, at)
	s.countAdjustments(out)

	s.metrics.IncrementResolve("ok")
	s.metrics.ObserveResolveLatency(time.Since(started))
	s.logger.InfoContext(ctx, "policy resolved",
		"tenant", req.Tenant,
		"session_ref", req.SessionRef,
		"ruleset_version", pre.ruleset.RulesetVersion,
		"pre_discrepancies", out.summary.PreDiscrepancies,
		"post_discrepancies", out.summary.PostDiscrepancies,
		"applied_exceptions", len(out.applied),
	)
	return res, nil
}

// prefetch gathers every store read before composition so no lock or
// transaction spans the composing step.
func (s *Service) prefetch(ctx context.Context, req models.ResolveRequest, at time.Time) (*prefetched, error) {
	ctx, span := s.tracer.Start(ctx, "resolver.prefetch")
	defer span.End()

	scope := rulesetmodels.ScopeKey{Domain: req.Domain, Jurisdiction: req.Jurisdiction}
	pre := &prefetched{}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rs, err := s.rulesets.FindActive(gctx, scope)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNoActiveRuleset,
				"no active ruleset for %s/%s", req.Domain, req.Jurisdiction)
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "find active ruleset")
		}
		pre.ruleset = rs

		rules, err := s.loadRules(gctx, rs)
		if err != nil {
			// Enrichment is best effort; results keep executor-supplied
			// severities.
			pre.contentWarning = "ruleset content unavailable, severity enrichment skipped"
			return nil
		}
		pre.rules = rules
		return nil
	})

	g.Go(func() error {
		o, err := s.overlays.FindActive(gctx, req.Tenant)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil // no overlay means no stricter checks
		}
		if err != nil {
			pre.overlayWarning = "overlay lookup failed, raw results returned"
			return nil
		}
		pre.overlay = o
		return nil
	})

	g.Go(func() error {
		ex, err := s.exceptions.ListActive(gctx, req.Tenant, exceptionstore.Query{At: at})
		if err != nil {
			pre.exceptionWarning = "exception lookup failed, raw results returned"
			return nil
		}
		pre.exceptions = ex
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pre, nil
}

// loadRules fetches and parses the ruleset content, through the cache when
// one is attached. Content is immutable per (id, checksum).
func (s *Service) loadRules(ctx context.Context, rs *rulesetmodels.Ruleset) (map[string]rulesetmodels.Rule, error) {
	rules, err := s.content.GetOrLoad(ctx, rs.ID, rs.Content.Checksum, func(ctx context.Context) ([]rulesetmodels.Rule, error) {
		raw, err := s.rulesets.GetContent(ctx, rs.ID)
		if err != nil {
			return nil, err
		}
		parsed, _, err := rulesetmodels.ParseContent(raw)
		return parsed, err
	})
	if err != nil {
		return nil, err
	}

	byCode := make(map[string]rulesetmodels.Rule, len(rules))
	for _, r := range rules {
		byCode[r.Code] = r
	}
	return byCode, nil
}

func (s *Service) recordEvent(ctx context.Context, req models.ResolveRequest, pre *prefetched, out composeOutput, at time.Time) {
	if s.events == nil {
		return
	}

	ev := analyticsmodels.ApplicationEvent{
		ID:             domain.NewEventID(),
		SessionRef:     req.SessionRef,
		TenantID:       req.Tenant,
		RulesetID:      pre.ruleset.ID,
		RulesetVersion: pre.ruleset.RulesetVersion,
		ConsultedIDs:   out.consulted,
		AppliedIDs:     out.applied,
		RuleChanges:    out.changes,
		PreCount:       out.summary.PreDiscrepancies,
		PostCount:      out.summary.PostDiscrepancies,
		Timestamp:      at,
	}
	if pre.overlay != nil {
		ev.OverlayID = &pre.overlay.ID
		v := pre.overlay.Version
		ev.OverlayVersion = &v
	}

	// The event feeds analytics only; losing one never fails the resolve.
	if err := s.events.Append(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "application event write failed",
			"session_ref", req.SessionRef,
			"error", err,
		)
	}
}

func (s *Service) countAdjustments(out composeOutput) {
	for _, ch := range out.changes {
		switch {
		case ch.Waived:
			s.metrics.IncrementAdjustment("waive")
		case ch.Effect == effectOverlay:
			s.metrics.IncrementAdjustment("overlay")
		default:
			s.metrics.IncrementAdjustment(ch.Effect)
		}
	}
}

// scopeFromAttributes validates the executor-supplied scope attribute map.
// The client key is required; branch and product default to match-all.
func scopeFromAttributes(attrs map[string]string) (domain.Scope, error) {
	client, ok := attrs["client"]
	if !ok || client == "" {
		return domain.Scope{}, dErrors.New(dErrors.CodeInvalidScope,
			"scope attributes must include a client")
	}
	return domain.Scope{
		Client:  client,
		Branch:  attrs["branch"],
		Product: attrs["product"],
	}.Normalize(), nil
}
