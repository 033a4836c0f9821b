package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"rulegate/internal/audit"
	auditmem "rulegate/internal/audit/store/memory"
	"rulegate/internal/ruleset/models"
	"rulegate/internal/ruleset/store"
	dErrors "rulegate/pkg/domain-errors"
	"rulegate/pkg/requestcontext"
)

const validContent = `[
	{"code": "UCP600_14A", "severity": "major", "conditions": [{"field": "documents.bill_of_lading", "operator": "present"}]},
	{"code": "UCP600_14B", "severity": "critical", "conditions": [{"field": "presentation.days_after_shipment", "operator": "lte", "value": 21}]}
]`

type RulesetServiceSuite struct {
	suite.Suite
	svc        *Service
	auditStore *auditmem.InMemoryStore
	ctx        context.Context
	now        time.Time
}

func (s *RulesetServiceSuite) SetupTest() {
	s.auditStore = auditmem.NewInMemoryStore()
	s.svc = New(store.NewInMemory(),
		WithAuditPublisher(audit.NewPublisher(s.auditStore)),
	)
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(
		requestcontext.WithActorID(context.Background(), "ops@bank.example"), s.now)
}

func TestRulesetServiceSuite(t *testing.T) {
	suite.Run(t, new(RulesetServiceSuite))
}

func (s *RulesetServiceSuite) upload(version string) *models.Ruleset {
	res, err := s.svc.Upload(s.ctx, UploadRequest{
		Domain:          "ICC",
		Jurisdiction:    "Global",
		RulesetVersion:  version,
		RulebookVersion: "UCP600:2007",
		Content:         []byte(validContent),
	})
	s.Require().NoError(err)
	return res.Ruleset
}

func (s *RulesetServiceSuite) TestUpload() {
	s.Run("stores a draft with normalized scope and checksum", func() {
		rs := s.upload("1.0.0")

		s.Equal("icc", rs.Domain)
		s.Equal("global", rs.Jurisdiction)
		s.Equal(models.StatusDraft, rs.Status)
		s.Equal(2, rs.RuleCount)
		s.Equal("ops@bank.example", rs.CreatedBy)
		s.NotEmpty(rs.Content.Checksum)

		entries, err := s.auditStore.List(s.ctx, audit.Filter{Action: audit.ActionUpload})
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(rs.ID.String(), entries[0].SubjectID)
	})

	s.Run("rejects duplicate version within the scope", func() {
		s.upload("2.0.0")

		_, err := s.svc.Upload(s.ctx, UploadRequest{
			Domain:         "icc",
			Jurisdiction:   "global",
			RulesetVersion: "2.0.0",
			Content:        []byte(validContent),
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejects defective content with the full defect list", func() {
		_, before, err := s.svc.List(s.ctx, store.Filter{}, store.Page{})
		s.Require().NoError(err)

		_, err = s.svc.Upload(s.ctx, UploadRequest{
			Domain:         "icc",
			Jurisdiction:   "global",
			RulesetVersion: "3.0.0",
			Content:        []byte(`[{"description": "no code"}, {"code": "R2", "severity": "fatal", "conditions": []}]`),
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		defects, ok := dErrors.Load(err, "defects").([]string)
		s.Require().True(ok)
		s.Len(defects, 4) // missing code, no conditions on both rules, bad severity

		// Nothing stored; audit trail records the rejection.
		_, after, err := s.svc.List(s.ctx, store.Filter{}, store.Page{})
		s.Require().NoError(err)
		s.Equal(before, after)

		entries, err := s.auditStore.List(s.ctx, audit.Filter{Action: audit.ActionValidate})
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal("rejected", entries[0].Detail["outcome"])
	})

	s.Run("passes warnings through without blocking", func() {
		res, err := s.svc.Upload(s.ctx, UploadRequest{
			Domain:         "icc",
			Jurisdiction:   "global",
			RulesetVersion: "4.0.0",
			Content:        []byte(`[]`),
		})
		s.Require().NoError(err)
		s.Equal([]string{"content contains zero rules"}, res.Warnings)
	})
}

func (s *RulesetServiceSuite) TestPublish() {
	s.Run("scopes without an active ruleset report it", func() {
		_, err := s.svc.GetActive(s.ctx, models.ScopeKey{Domain: "icc", Jurisdiction: "global"})
		s.True(dErrors.HasCode(err, dErrors.CodeNoActiveRuleset))
	})

	s.Run("activates a draft when the scope has no active ruleset", func() {
		rs := s.upload("1.0.0")

		published, err := s.svc.Publish(s.ctx, rs.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusActive, published.Status)
		s.Equal("ops@bank.example", published.PublishedBy)
		s.Require().NotNil(published.PublishedAt)
		s.True(published.PublishedAt.Equal(s.now))

		active, err := s.svc.GetActive(s.ctx, models.ScopeKey{Domain: "icc", Jurisdiction: "global"})
		s.Require().NoError(err)
		s.Equal(rs.ID, active.ID)
	})

	s.Run("archives the displaced ruleset and records a linked audit pair", func() {
		a := s.upload("2.0.0")
		b := s.upload("2.1.0")

		_, err := s.svc.Publish(s.ctx, a.ID)
		s.Require().NoError(err)
		_, err = s.svc.Publish(s.ctx, b.ID)
		s.Require().NoError(err)

		displaced, err := s.svc.Get(s.ctx, a.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusArchived, displaced.Status)

		publishes, err := s.auditStore.List(s.ctx, audit.Filter{
			Action: audit.ActionPublish, SubjectID: b.ID.String(),
		})
		s.Require().NoError(err)
		s.Require().Len(publishes, 1)
		s.Equal(a.ID.String(), publishes[0].Detail[audit.DetailDisplaced])

		archives, err := s.auditStore.List(s.ctx, audit.Filter{
			Action: audit.ActionArchive, SubjectID: a.ID.String(),
		})
		s.Require().NoError(err)
		s.Require().Len(archives, 1)
		s.Equal(publishes[0].ID.String(), archives[0].Detail[audit.DetailRelatedEntry])
		s.Equal(archives[0].ID.String(), publishes[0].Detail[audit.DetailRelatedEntry])
	})

	s.Run("rejects publishing the already active ruleset", func() {
		rs := s.upload("3.0.0")
		_, err := s.svc.Publish(s.ctx, rs.ID)
		s.Require().NoError(err)

		_, err = s.svc.Publish(s.ctx, rs.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyActive))
	})

	s.Run("directs archived rulesets to rollback", func() {
		a := s.upload("4.0.0")
		b := s.upload("4.1.0")
		_, err := s.svc.Publish(s.ctx, a.ID)
		s.Require().NoError(err)
		_, err = s.svc.Publish(s.ctx, b.ID)
		s.Require().NoError(err)

		_, err = s.svc.Publish(s.ctx, a.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func (s *RulesetServiceSuite) TestRollback() {
	s.Run("restores an archived ruleset and archives the current active", func() {
		a := s.upload("1.0.0")
		b := s.upload("1.1.0")
		_, err := s.svc.Publish(s.ctx, a.ID)
		s.Require().NoError(err)
		_, err = s.svc.Publish(s.ctx, b.ID)
		s.Require().NoError(err)

		restored, err := s.svc.Rollback(s.ctx, a.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusActive, restored.Status)
		s.Equal(a.Content.Checksum, restored.Content.Checksum)

		former, err := s.svc.Get(s.ctx, b.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusArchived, former.Status)

		rollbacks, err := s.auditStore.List(s.ctx, audit.Filter{Action: audit.ActionRollback})
		s.Require().NoError(err)
		s.Require().Len(rollbacks, 1)
		s.Equal(b.ID.String(), rollbacks[0].Detail[audit.DetailDisplaced])
	})

	s.Run("rejects rolling back the active ruleset", func() {
		rs := s.upload("2.0.0")
		_, err := s.svc.Publish(s.ctx, rs.ID)
		s.Require().NoError(err)

		_, err = s.svc.Rollback(s.ctx, rs.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyActive))
	})

	s.Run("rejects rolling back a draft", func() {
		rs := s.upload("3.0.0")

		_, err := s.svc.Rollback(s.ctx, rs.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotArchived))
	})
}

// Concurrent publishes on one scope must end with exactly one active ruleset
// and every displaced ruleset archived, regardless of interleaving.
func (s *RulesetServiceSuite) TestConcurrentPublishesOneWinner() {
	const n = 8
	drafts := make([]*models.Ruleset, n)
	for i := range drafts {
		drafts[i] = s.upload(fmt.Sprintf("1.%d.0", i))
	}

	var wg sync.WaitGroup
	for _, rs := range drafts {
		wg.Add(1)
		go func(rs *models.Ruleset) {
			defer wg.Done()
			_, err := s.svc.Publish(s.ctx, rs.ID)
			s.NoError(err)
		}(rs)
	}
	wg.Wait()

	actives, total, err := s.svc.List(s.ctx, store.Filter{Status: models.StatusActive}, store.Page{})
	s.Require().NoError(err)
	s.Equal(1, total)
	s.Require().Len(actives, 1)

	archived, _, err := s.svc.List(s.ctx, store.Filter{Status: models.StatusArchived}, store.Page{})
	s.Require().NoError(err)
	s.Len(archived, n-1)

	// Every publish after the first displaced something, so there are n
	// publish entries and n-1 archive entries.
	publishes, err := s.auditStore.List(s.ctx, audit.Filter{Action: audit.ActionPublish})
	s.Require().NoError(err)
	s.Len(publishes, n)
	archives, err := s.auditStore.List(s.ctx, audit.Filter{Action: audit.ActionArchive})
	s.Require().NoError(err)
	s.Len(archives, n-1)
}
