//go:build integration

package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	platformpg "rulegate/internal/platform/postgres"
	"rulegate/internal/ruleset/models"
	"rulegate/pkg/domain"
	"rulegate/pkg/platform/sentinel"
)

// Run with: go test -tags=integration -timeout 300s ./internal/ruleset/store/...
type PostgresStoreSuite struct {
	suite.Suite
	container *pgcontainer.PostgresContainer
	db        *sql.DB
	store     *PostgresStore
	ctx       context.Context
	now       time.Time
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := pgcontainer.Run(s.ctx,
		"postgres:16-alpine",
		pgcontainer.WithDatabase("rulegate_test"),
		pgcontainer.WithUsername("rulegate"),
		pgcontainer.WithPassword("rulegate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.db, err = sql.Open("postgres", dsn)
	s.Require().NoError(err)
	s.Require().NoError(s.db.PingContext(s.ctx))
	s.Require().NoError(platformpg.ApplySchema(s.ctx, s.db))

	s.store = NewPostgres(s.db)
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.db.ExecContext(s.ctx, `TRUNCATE rulesets`)
	s.Require().NoError(err)
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

const testContent = `[{"code": "UCP600_14A", "description": "documents must be presented", "severity": "major"}]`

func (s *PostgresStoreSuite) newRuleset(version string) *models.Ruleset {
	rs, err := models.NewRuleset(
		domain.NewRulesetID(),
		models.ScopeKey{Domain: "icc", Jurisdiction: "global"},
		version, "UCP600:2007", "ops@bank.example", s.now,
	)
	s.Require().NoError(err)
	rs.Content = models.ContentRef{Location: "rulesets/" + rs.ID.String() + ".json", Checksum: "abc123"}
	rs.RuleCount = 1
	return rs
}

func (s *PostgresStoreSuite) TestCreateAndRead() {
	rs := s.newRuleset("1.0.0")
	s.Require().NoError(s.store.CreateIfVersionAvailable(s.ctx, rs, []byte(testContent)))

	got, err := s.store.FindByID(s.ctx, rs.ID)
	s.Require().NoError(err)
	s.Equal(rs.ID, got.ID)
	s.Equal("icc", got.Domain)
	s.Equal(models.StatusDraft, got.Status)
	s.Equal("abc123", got.Content.Checksum)
	s.True(got.CreatedAt.Equal(s.now))

	content, err := s.store.GetContent(s.ctx, rs.ID)
	s.Require().NoError(err)
	s.JSONEq(testContent, string(content))

	s.Run("duplicate version conflicts", func() {
		dup := s.newRuleset("1.0.0")
		err := s.store.CreateIfVersionAvailable(s.ctx, dup, []byte(testContent))
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.FindByID(s.ctx, domain.NewRulesetID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PostgresStoreSuite) activate(id domain.RulesetID) (*models.Ruleset, *models.Ruleset) {
	target, displaced, err := s.store.ExecuteSwap(s.ctx, id,
		func(target, _ *models.Ruleset) error { return target.CanPublish() },
		func(target, current *models.Ruleset) {
			target.ApplyActivate(s.now, "ops@bank.example")
			if current != nil {
				current.ApplyArchive()
			}
		})
	s.Require().NoError(err)
	return target, displaced
}

func (s *PostgresStoreSuite) TestSwapDisplacesActive() {
	first := s.newRuleset("1.0.0")
	second := s.newRuleset("2.0.0")
	s.Require().NoError(s.store.CreateIfVersionAvailable(s.ctx, first, []byte(testContent)))
	s.Require().NoError(s.store.CreateIfVersionAvailable(s.ctx, second, []byte(testContent)))

	activated, displaced := s.activate(first.ID)
	s.Equal(models.StatusActive, activated.Status)
	s.Nil(displaced)

	activated, displaced = s.activate(second.ID)
	s.Equal(models.StatusActive, activated.Status)
	s.Require().NotNil(displaced)
	s.Equal(first.ID, displaced.ID)
	s.Equal(models.StatusArchived, displaced.Status)

	active, err := s.store.FindActive(s.ctx, models.ScopeKey{Domain: "icc", Jurisdiction: "global"})
	s.Require().NoError(err)
	s.Equal(second.ID, active.ID)

	archived, err := s.store.FindByID(s.ctx, first.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusArchived, archived.Status)
	s.Equal("ops@bank.example", active.PublishedBy)
	s.Require().NotNil(active.PublishedAt)
}

func (s *PostgresStoreSuite) TestSwapValidationRollsBack() {
	rs := s.newRuleset("1.0.0")
	s.Require().NoError(s.store.CreateIfVersionAvailable(s.ctx, rs, []byte(testContent)))
	s.activate(rs.ID)

	// Publishing the already active ruleset must fail and leave it untouched.
	_, _, err := s.store.ExecuteSwap(s.ctx, rs.ID,
		func(target, _ *models.Ruleset) error { return target.CanPublish() },
		func(target, current *models.Ruleset) {
			target.ApplyActivate(s.now, "ops@bank.example")
		})
	s.Error(err)

	got, err := s.store.FindByID(s.ctx, rs.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, got.Status)
}

func (s *PostgresStoreSuite) TestList() {
	for _, v := range []string{"1.0.0", "1.1.0", "2.0.0"} {
		s.Require().NoError(s.store.CreateIfVersionAvailable(s.ctx, s.newRuleset(v), []byte(testContent)))
	}

	page, total, err := s.store.List(s.ctx, Filter{Domain: "icc", Jurisdiction: "global"}, Page{Number: 1, Size: 2})
	s.Require().NoError(err)
	s.Equal(3, total)
	s.Len(page, 2)

	page, _, err = s.store.List(s.ctx, Filter{Domain: "icc", Jurisdiction: "global"}, Page{Number: 2, Size: 2})
	s.Require().NoError(err)
	s.Len(page, 1)
}
