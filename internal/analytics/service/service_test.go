package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"rulegate/internal/analytics/models"
	analyticsstore "rulegate/internal/analytics/store"
	"rulegate/internal/audit"
	auditmem "rulegate/internal/audit/store/memory"
	exceptionmodels "rulegate/internal/exception/models"
	exceptionstore "rulegate/internal/exception/store"
	overlaymodels "rulegate/internal/overlay/models"
	overlaystore "rulegate/internal/overlay/store"
	"rulegate/pkg/domain"
	"rulegate/pkg/requestcontext"
)

type AnalyticsSuite struct {
	suite.Suite
	events     *analyticsstore.InMemory
	overlays   *overlaystore.InMemory
	exceptions *exceptionstore.InMemory
	trail      *auditmem.InMemoryStore
	svc        *Service
	ctx        context.Context
	now        time.Time
}

func (s *AnalyticsSuite) SetupTest() {
	s.events = analyticsstore.NewInMemory()
	s.overlays = overlaystore.NewInMemory()
	s.exceptions = exceptionstore.NewInMemory()
	s.trail = auditmem.NewInMemoryStore()
	s.svc = New(s.events, s.overlays, s.exceptions, s.trail)
	s.now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func TestAnalyticsSuite(t *testing.T) {
	suite.Run(t, new(AnalyticsSuite))
}

func (s *AnalyticsSuite) TestEmptyReport() {
	report, err := s.svc.GetAnalytics(s.ctx, time.Time{}, time.Time{})
	s.Require().NoError(err)

	s.Zero(report.OverlayStats.Publishes)
	s.Zero(report.OverlayStats.ActiveTenants)
	s.Zero(report.ExceptionStats.Total)
	s.Zero(report.ImpactMetrics.Resolutions)
	s.Empty(report.TopExceptions)
	s.Empty(report.OverlayAdoption)
}

func (s *AnalyticsSuite) seedActiveOverlay(tenant domain.TenantID) *overlaymodels.Overlay {
	o, err := overlaymodels.NewOverlay(domain.NewOverlayID(), tenant, overlaymodels.Config{}, "compliance@bank.example", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.overlays.Create(s.ctx, o))

	activated, _, err := s.overlays.ExecuteReplace(s.ctx, o.ID,
		func(target, _ *overlaymodels.Overlay) error { return target.CanPublish() },
		func(target, current *overlaymodels.Overlay) {
			target.ApplyActivate(s.now, "compliance@bank.example")
			if current != nil {
				current.ApplySupersede()
			}
		})
	s.Require().NoError(err)
	return activated
}

func (s *AnalyticsSuite) seedException(ruleCode string, effect domain.Effect, expiresAt *time.Time) *exceptionmodels.Exception {
	e, err := exceptionmodels.NewException(
		domain.NewExceptionID(), "acme-bank", ruleCode, domain.Scope{}, effect,
		"approved by compliance", "ops@bank.example", s.now.Add(-24*time.Hour),
	)
	s.Require().NoError(err)
	e.ExpiresAt = expiresAt
	s.Require().NoError(s.exceptions.Create(s.ctx, e))
	return e
}

func (s *AnalyticsSuite) seedPublishEntry(at time.Time) {
	s.Require().NoError(s.trail.Append(s.ctx, audit.Entry{
		ID:          domain.NewAuditID(),
		SubjectType: audit.SubjectOverlay,
		SubjectID:   domain.NewOverlayID().String(),
		Action:      audit.ActionPublish,
		Actor:       "compliance@bank.example",
		Timestamp:   at,
	}))
}

func (s *AnalyticsSuite) TestFullReport() {
	from := s.now.Add(-7 * 24 * time.Hour)
	to := s.now

	// Two tenants with active overlays; publishing twice for the first
	// supersedes the earlier version, so adoption still counts one per tenant.
	s.seedActiveOverlay("acme-bank")
	s.seedActiveOverlay("acme-bank")
	s.seedActiveOverlay("globex-trade")

	s.seedPublishEntry(s.now.Add(-time.Hour))
	s.seedPublishEntry(s.now.Add(-2 * time.Hour))
	s.seedPublishEntry(s.now.Add(-30 * 24 * time.Hour)) // before the window

	expired := s.now.Add(-time.Hour)
	waiver := s.seedException("UCP600_14B", domain.EffectWaive, nil)
	s.seedException("UCP600_14A", domain.EffectDowngrade, nil)
	s.seedException("ISBP_745_A19", domain.EffectOverride, &expired)

	deletedID := domain.NewExceptionID() // applied in events but no longer stored

	appendEvent := func(at time.Time, applied []domain.ExceptionID, pre, post int, changes []models.RuleChange) {
		s.Require().NoError(s.events.Append(s.ctx, models.ApplicationEvent{
			ID:           domain.NewEventID(),
			SessionRef:   "session-001",
			TenantID:     "acme-bank",
			RulesetID:    domain.NewRulesetID(),
			ConsultedIDs: applied,
			AppliedIDs:   applied,
			RuleChanges:  changes,
			PreCount:     pre,
			PostCount:    post,
			Timestamp:    at,
		}))
	}

	appendEvent(s.now.Add(-time.Hour), []domain.ExceptionID{waiver.ID, deletedID}, 3, 1, []models.RuleChange{
		{RuleCode: "UCP600_14B", Waived: true, Effect: string(domain.EffectWaive)},
		{RuleCode: "UCP600_14A", Effect: string(domain.EffectDowngrade)},
	})
	appendEvent(s.now.Add(-2*time.Hour), []domain.ExceptionID{waiver.ID}, 2, 2, []models.RuleChange{
		{RuleCode: "ISBP_745_A19", Effect: string(domain.EffectOverride)},
		{RuleCode: "OVERLAY_EXPIRY_DATE_REQUIRED", Effect: "overlay"},
	})
	appendEvent(s.now.Add(-30*24*time.Hour), []domain.ExceptionID{waiver.ID}, 5, 5, nil) // before the window

	report, err := s.svc.GetAnalytics(s.ctx, from, to)
	s.Require().NoError(err)

	s.Equal(2, report.OverlayStats.Publishes, "publishes outside the window are excluded")
	s.Equal(2, report.OverlayStats.ActiveTenants)

	s.Equal(3, report.ExceptionStats.Total)
	s.Equal(2, report.ExceptionStats.Active)
	s.Equal(1, report.ExceptionStats.Expired)
	s.Equal(map[string]int{"waive": 1, "downgrade": 1, "override": 1}, report.ExceptionStats.ByEffect)

	s.Equal(2, report.ImpactMetrics.Resolutions, "events outside the window are excluded")
	s.Equal(5, report.ImpactMetrics.PreDiscrepancies)
	s.Equal(3, report.ImpactMetrics.PostDiscrepancies)
	s.Equal(2, report.ImpactMetrics.DiscrepanciesResolved)
	s.Equal(1, report.ImpactMetrics.Waived)
	s.Equal(1, report.ImpactMetrics.Downgraded)
	s.Equal(1, report.ImpactMetrics.Overridden)
	s.Equal(1, report.ImpactMetrics.OverlayAdjustments)

	s.Require().Len(report.TopExceptions, 2)
	s.Equal(waiver.ID, report.TopExceptions[0].ExceptionID)
	s.Equal(2, report.TopExceptions[0].Applications)
	s.Equal("UCP600_14B", report.TopExceptions[0].RuleCode)
	s.Equal(deletedID, report.TopExceptions[1].ExceptionID)
	s.Equal(1, report.TopExceptions[1].Applications)
	s.Empty(report.TopExceptions[1].RuleCode, "deleted exceptions keep the count but lose the detail")

	s.Len(report.OverlayAdoption, 2)
	tenants := map[domain.TenantID]int{}
	for _, a := range report.OverlayAdoption {
		tenants[a.TenantID] = a.Version
	}
	s.Equal(2, tenants["acme-bank"], "adoption reports the latest active version")
	s.Equal(1, tenants["globex-trade"])
}
