package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	analyticsstore "rulegate/internal/analytics/store"
	exceptionmodels "rulegate/internal/exception/models"
	exceptionstore "rulegate/internal/exception/store"
	overlaymodels "rulegate/internal/overlay/models"
	overlaystore "rulegate/internal/overlay/store"
	"rulegate/internal/resolver/models"
	rulesetmodels "rulegate/internal/ruleset/models"
	rulesetstore "rulegate/internal/ruleset/store"
	"rulegate/pkg/domain"
	dErrors "rulegate/pkg/domain-errors"
)

const (
	tenantACME  = domain.TenantID("acme-bank")
	ruleLate    = "UCP600_14B"
	rulePresent = "UCP600_14A"
)

const resolverContent = `[
	{"code": "UCP600_14A", "description": "documents must be presented", "severity": "major", "conditions": [{"field": "documents", "operator": "present"}]},
	{"code": "UCP600_14B", "description": "presentation within 21 days", "severity": "critical", "conditions": [{"field": "presentation.days_after_shipment", "operator": "lte", "value": 21}]}
]`

type ResolverSuite struct {
	suite.Suite
	rulesets   *rulesetstore.InMemory
	overlays   *overlaystore.InMemory
	exceptions *exceptionstore.InMemory
	events     *analyticsstore.InMemory
	svc        *Service
	ctx        context.Context
	now        time.Time
}

func (s *ResolverSuite) SetupTest() {
	s.rulesets = rulesetstore.NewInMemory()
	s.overlays = overlaystore.NewInMemory()
	s.exceptions = exceptionstore.NewInMemory()
	s.events = analyticsstore.NewInMemory()
	s.svc = New(s.rulesets, s.overlays, s.exceptions,
		WithEventRecorder(s.events),
	)
	s.ctx = context.Background()
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) seedActiveRuleset() *rulesetmodels.Ruleset {
	rs, err := rulesetmodels.NewRuleset(
		domain.NewRulesetID(),
		rulesetmodels.ScopeKey{Domain: "icc", Jurisdiction: "global"},
		"1.0.0", "UCP600:2007", "ops@bank.example", s.now,
	)
	s.Require().NoError(err)
	s.Require().NoError(s.rulesets.CreateIfVersionAvailable(s.ctx, rs, []byte(resolverContent)))

	activated, _, err := s.rulesets.ExecuteSwap(s.ctx, rs.ID,
		func(target, _ *rulesetmodels.Ruleset) error { return target.CanPublish() },
		func(target, current *rulesetmodels.Ruleset) {
			target.ApplyActivate(s.now, "ops@bank.example")
			if current != nil {
				current.ApplyArchive()
			}
		})
	s.Require().NoError(err)
	return activated
}

func (s *ResolverSuite) seedActiveOverlay(config overlaymodels.Config) *overlaymodels.Overlay {
	o, err := overlaymodels.NewOverlay(domain.NewOverlayID(), tenantACME, config, "compliance@acme.example", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.overlays.Create(s.ctx, o))

	activated, _, err := s.overlays.ExecuteReplace(s.ctx, o.ID,
		func(target, _ *overlaymodels.Overlay) error { return target.CanPublish() },
		func(target, current *overlaymodels.Overlay) {
			target.ApplyActivate(s.now, "compliance@acme.example")
			if current != nil {
				current.ApplySupersede()
			}
		})
	s.Require().NoError(err)
	return activated
}

func (s *ResolverSuite) seedException(effect domain.Effect, scope domain.Scope, mutate func(*exceptionmodels.Exception)) *exceptionmodels.Exception {
	e, err := exceptionmodels.NewException(
		domain.NewExceptionID(), tenantACME, ruleLate, scope, effect,
		"approved by compliance", "ops@bank.example", s.now,
	)
	s.Require().NoError(err)
	if mutate != nil {
		mutate(e)
	}
	s.Require().NoError(s.exceptions.Create(s.ctx, e))
	return e
}

func (s *ResolverSuite) request(raw []models.RuleResult) models.ResolveRequest {
	at := s.now
	return models.ResolveRequest{
		Domain:          "icc",
		Jurisdiction:    "global",
		Tenant:          tenantACME,
		SessionRef:      "session-001",
		ScopeAttributes: map[string]string{"client": "ACME"},
		RawResults:      raw,
		At:              &at,
	}
}

func failedCritical() []models.RuleResult {
	return []models.RuleResult{
		{RuleCode: rulePresent, Severity: domain.SeverityMajor, Passed: true},
		{RuleCode: ruleLate, Severity: domain.SeverityCritical, Passed: false},
	}
}

func (s *ResolverSuite) TestHardFailures() {
	s.Run("no active ruleset is a hard stop", func() {
		_, err := s.svc.Resolve(s.ctx, s.request(failedCritical()))
		s.True(dErrors.HasCode(err, dErrors.CodeNoActiveRuleset))
	})

	s.Run("missing client scope attribute is invalid", func() {
		s.seedActiveRuleset()
		req := s.request(failedCritical())
		req.ScopeAttributes = map[string]string{"branch": "hq"}

		_, err := s.svc.Resolve(s.ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidScope))
	})
}

func (s *ResolverSuite) TestPlainResolve() {
	rs := s.seedActiveRuleset()

	res, err := s.svc.Resolve(s.ctx, s.request(failedCritical()))
	s.Require().NoError(err)

	s.Equal(rs.ID, res.RulesetID)
	s.Equal("1.0.0", res.RulesetVersion)
	s.Nil(res.OverlayID)
	s.Len(res.Results, 2)
	s.Equal(1, res.Summary.PreDiscrepancies)
	s.Equal(1, res.Summary.PostDiscrepancies)
	s.Empty(res.Warnings)

	s.Run("severity enrichment fills blanks from the ruleset", func() {
		raw := []models.RuleResult{{RuleCode: ruleLate, Passed: false}}
		res, err := s.svc.Resolve(s.ctx, s.request(raw))
		s.Require().NoError(err)
		s.Equal(domain.SeverityCritical, res.Results[0].Severity)
		s.Equal("presentation within 21 days", res.Results[0].Description)
	})
}

func (s *ResolverSuite) TestOverlayStricterChecks() {
	s.seedActiveRuleset()

	s.Run("require_expiry_date injects a synthetic failing result", func() {
		s.seedActiveOverlay(overlaymodels.Config{
			StricterChecks: overlaymodels.StricterChecks{RequireExpiryDate: true},
		})

		res, err := s.svc.Resolve(s.ctx, s.request(failedCritical()))
		s.Require().NoError(err)

		var synthetic *models.RuleResult
		for i := range res.Results {
			if res.Results[i].Synthetic {
				synthetic = &res.Results[i]
			}
		}
		s.Require().NotNil(synthetic)
		s.Equal("OVERLAY_EXPIRY_DATE_REQUIRED", synthetic.RuleCode)
		s.False(synthetic.Passed)
		s.Equal(2, res.Summary.PostDiscrepancies)
	})

	s.Run("expiry-aware raw results suppress the synthetic", func() {
		raw := append(failedCritical(), models.RuleResult{
			RuleCode: "DOC_EXPIRY_DATE", Severity: domain.SeverityMinor, Passed: true,
		})
		res, err := s.svc.Resolve(s.ctx, s.request(raw))
		s.Require().NoError(err)
		for _, r := range res.Results {
			s.False(r.Synthetic)
		}
	})

	s.Run("mandatory documents missing from the presentation fail", func() {
		s.seedActiveOverlay(overlaymodels.Config{
			StricterChecks: overlaymodels.StricterChecks{
				MandatoryDocuments: []string{"commercial_invoice", "packing_list"},
			},
		})

		req := s.request(failedCritical())
		req.PresentedDocuments = []string{"commercial_invoice"}
		res, err := s.svc.Resolve(s.ctx, req)
		s.Require().NoError(err)

		var codes []string
		for _, r := range res.Results {
			if r.Synthetic {
				codes = append(codes, r.RuleCode)
			}
		}
		s.Equal([]string{"OVERLAY_MANDATORY_DOC_MISSING:packing_list"}, codes)
	})

	s.Run("severity override forces discrepancy grades", func() {
		s.seedActiveOverlay(overlaymodels.Config{
			Thresholds: overlaymodels.Thresholds{SeverityOverride: domain.SeverityMajor},
		})

		res, err := s.svc.Resolve(s.ctx, s.request(failedCritical()))
		s.Require().NoError(err)
		for _, r := range res.Results {
			if !r.Passed {
				s.Equal(domain.SeverityMajor, r.Severity)
			}
		}
	})

	s.Run("auto-reject conditions escalate to critical", func() {
		s.seedActiveOverlay(overlaymodels.Config{
			Thresholds: overlaymodels.Thresholds{
				SeverityOverride:     domain.SeverityMajor,
				AutoRejectConditions: []string{ruleLate},
			},
		})

		res, err := s.svc.Resolve(s.ctx, s.request(failedCritical()))
		s.Require().NoError(err)
		for _, r := range res.Results {
			if r.RuleCode == ruleLate {
				s.Equal(domain.SeverityCritical, r.Severity)
			}
		}
	})
}

func (s *ResolverSuite) TestExceptionEffects() {
	s.seedActiveRuleset()

	s.Run("downgrade reduces severity by one level", func() {
		s.seedException(domain.EffectDowngrade, domain.Scope{Client: "ACME"}, nil)

		res, err := s.svc.Resolve(s.ctx, s.request(failedCritical()))
		s.Require().NoError(err)

		for _, r := range res.Results {
			if r.RuleCode == ruleLate {
				s.Equal(domain.SeverityMajor, r.Severity)
			}
		}
		s.Len(res.AppliedIDs, 1)
	})

	s.Run("waive removes the result from the final list", func() {
		s.exceptions.Clear()
		waiver := s.seedException(domain.EffectWaive, domain.Scope{}, nil)

		res, err := s.svc.Resolve(s.ctx, s.request(failedCritical()))
		s.Require().NoError(err)

		s.Len(res.Results, 1)
		s.Require().Len(res.Waived, 1)
		s.Equal(ruleLate, res.Waived[0].RuleCode)
		s.Equal(0, res.Summary.PostDiscrepancies)
		s.Equal([]domain.ExceptionID{waiver.ID}, res.AppliedIDs)
	})

	s.Run("override wins over waive regardless of scope and age", func() {
		s.exceptions.Clear()
		waiver := s.seedException(domain.EffectWaive, domain.Scope{Client: "ACME"}, nil)
		override := s.seedException(domain.EffectOverride, domain.Scope{}, func(e *exceptionmodels.Exception) {
			e.OverrideSeverity = domain.SeverityMinor
			e.CreatedAt = s.now.Add(-time.Hour)
		})

		res, err := s.svc.Resolve(s.ctx, s.request(failedCritical()))
		s.Require().NoError(err)

		s.Len(res.Results, 2)
		for _, r := range res.Results {
			if r.RuleCode == ruleLate {
				s.Equal(domain.SeverityMinor, r.Severity)
			}
		}
		s.Equal([]domain.ExceptionID{override.ID}, res.AppliedIDs)
		s.Len(res.ConsultedIDs, 2, "the losing waiver is still consulted")
		s.Contains(res.ConsultedIDs, waiver.ID)
	})

	s.Run("override can flip a failing result to passing", func() {
		s.exceptions.Clear()
		s.seedException(domain.EffectOverride, domain.Scope{}, func(e *exceptionmodels.Exception) {
			passed := true
			e.OverridePassed = &passed
		})

		res, err := s.svc.Resolve(s.ctx, s.request(failedCritical()))
		s.Require().NoError(err)
		s.Equal(0, res.Summary.PostDiscrepancies)
	})

	s.Run("expired exceptions never affect resolve", func() {
		s.exceptions.Clear()
		s.seedException(domain.EffectWaive, domain.Scope{}, func(e *exceptionmodels.Exception) {
			past := s.now.Add(-time.Minute)
			e.ExpiresAt = &past
		})

		res, err := s.svc.Resolve(s.ctx, s.request(failedCritical()))
		s.Require().NoError(err)
		s.Len(res.Results, 2)
		s.Empty(res.AppliedIDs)
		s.Empty(res.ConsultedIDs)
	})

	s.Run("scope mismatch leaves the result untouched", func() {
		s.exceptions.Clear()
		s.seedException(domain.EffectWaive, domain.Scope{Client: "GLOBEX"}, nil)

		res, err := s.svc.Resolve(s.ctx, s.request(failedCritical()))
		s.Require().NoError(err)
		s.Len(res.Results, 2)
		s.Empty(res.AppliedIDs)
	})
}

// Identical input must always produce identical output.
func (s *ResolverSuite) TestDeterminism() {
	s.seedActiveRuleset()
	s.seedActiveOverlay(overlaymodels.Config{
		StricterChecks: overlaymodels.StricterChecks{RequireExpiryDate: true},
		Thresholds:     overlaymodels.Thresholds{SeverityOverride: domain.SeverityMajor},
	})
	s.seedException(domain.EffectDowngrade, domain.Scope{Client: "ACME"}, nil)
	s.seedException(domain.EffectWaive, domain.Scope{}, nil)

	first, err := s.svc.Resolve(s.ctx, s.request(failedCritical()))
	s.Require().NoError(err)
	second, err := s.svc.Resolve(s.ctx, s.request(failedCritical()))
	s.Require().NoError(err)

	s.Equal(first, second)
}

func (s *ResolverSuite) TestApplicationEvents() {
	s.seedActiveRuleset()
	overlay := s.seedActiveOverlay(overlaymodels.Config{
		Thresholds: overlaymodels.Thresholds{SeverityOverride: domain.SeverityMajor},
	})
	e := s.seedException(domain.EffectDowngrade, domain.Scope{Client: "ACME"}, nil)

	_, err := s.svc.Resolve(s.ctx, s.request(failedCritical()))
	s.Require().NoError(err)

	events, err := s.events.ListRange(s.ctx, time.Time{}, time.Time{})
	s.Require().NoError(err)
	s.Require().Len(events, 1)

	ev := events[0]
	s.Equal("session-001", ev.SessionRef)
	s.Equal(tenantACME, ev.TenantID)
	s.Equal("1.0.0", ev.RulesetVersion)
	s.Require().NotNil(ev.OverlayID)
	s.Equal(overlay.ID, *ev.OverlayID)
	s.Equal([]domain.ExceptionID{e.ID}, ev.ConsultedIDs)
	s.Equal([]domain.ExceptionID{e.ID}, ev.AppliedIDs)
	s.NotEmpty(ev.RuleChanges)
	s.Equal(1, ev.PreCount)
	s.Equal(1, ev.PostCount)
}

// failingExceptions simulates a broken exception backend.
type failingExceptions struct{}

func (failingExceptions) ListActive(context.Context, domain.TenantID, exceptionstore.Query) ([]*exceptionmodels.Exception, error) {
	return nil, errors.New("backend unavailable")
}

func (s *ResolverSuite) TestDegradedResolveReturnsRawResults() {
	s.seedActiveRuleset()
	s.seedActiveOverlay(overlaymodels.Config{
		Thresholds: overlaymodels.Thresholds{SeverityOverride: domain.SeverityMajor},
	})

	svc := New(s.rulesets, s.overlays, failingExceptions{}, WithEventRecorder(s.events))

	raw := failedCritical()
	res, err := svc.Resolve(s.ctx, s.request(raw))
	s.Require().NoError(err)

	// No layer applied at all: the overlay override must not leak into a
	// partially composed response.
	s.Equal(raw, res.Results)
	s.Nil(res.OverlayID)
	s.NotEmpty(res.Warnings)
	s.Empty(res.AppliedIDs)
}
