package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"rulegate/internal/ruleset/models"
	"rulegate/pkg/domain"
	"rulegate/pkg/platform/sentinel"
)

// PostgresStore is the durable ruleset repository. Activation swaps run in a
// transaction holding row locks on the target and the scope's active row, so
// concurrent publishes on the same scope serialize at the database while
// unrelated scopes proceed in parallel.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const rulesetColumns = `
	id, domain, jurisdiction, ruleset_version, rulebook_version,
	checksum, content_location, status, rule_count,
	effective_from, effective_to,
	created_by, created_at, published_by, published_at, notes
`

func (s *PostgresStore) CreateIfVersionAvailable(ctx context.Context, rs *models.Ruleset, content []byte) error {
	query := `
		INSERT INTO rulesets (
			id, domain, jurisdiction, ruleset_version, rulebook_version,
			checksum, content_location, content, status, rule_count,
			effective_from, effective_to, created_by, created_at, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(rs.ID), rs.Domain, rs.Jurisdiction, rs.RulesetVersion, rs.RulebookVersion,
		rs.Content.Checksum, rs.Content.Location, content, string(rs.Status), rs.RuleCount,
		rs.EffectiveFrom, rs.EffectiveTo, rs.CreatedBy, rs.CreatedAt, rs.Notes,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert ruleset: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.RulesetID) (*models.Ruleset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rulesetColumns+` FROM rulesets WHERE id = $1`, uuid.UUID(id))
	return scanRuleset(row)
}

func (s *PostgresStore) FindActive(ctx context.Context, scope models.ScopeKey) (*models.Ruleset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rulesetColumns+` FROM rulesets WHERE domain = $1 AND jurisdiction = $2 AND status = 'active'`,
		scope.Domain, scope.Jurisdiction)
	return scanRuleset(row)
}

func (s *PostgresStore) List(ctx context.Context, filter Filter, page Page) ([]*models.Ruleset, int, error) {
	page = page.Normalize()

	var total int
	countQuery := `
		SELECT count(*) FROM rulesets
		WHERE ($1 = '' OR domain = $1)
		  AND ($2 = '' OR jurisdiction = $2)
		  AND ($3 = '' OR status = $3)
	`
	if err := s.db.QueryRowContext(ctx, countQuery,
		filter.Domain, filter.Jurisdiction, string(filter.Status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count rulesets: %w", err)
	}

	query := `
		SELECT ` + rulesetColumns + ` FROM rulesets
		WHERE ($1 = '' OR domain = $1)
		  AND ($2 = '' OR jurisdiction = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC, id ASC
		LIMIT $4 OFFSET $5
	`
	rows, err := s.db.QueryContext(ctx, query,
		filter.Domain, filter.Jurisdiction, string(filter.Status), page.Size, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list rulesets: %w", err)
	}
	defer rows.Close()

	var out []*models.Ruleset
	for rows.Next() {
		rs, err := scanRuleset(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rs)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) GetContent(ctx context.Context, id domain.RulesetID) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM rulesets WHERE id = $1`, uuid.UUID(id)).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ruleset content: %w", err)
	}
	return content, nil
}

func (s *PostgresStore) ExecuteSwap(
	ctx context.Context,
	targetID domain.RulesetID,
	validate func(target, current *models.Ruleset) error,
	mutate func(target, current *models.Ruleset),
) (*models.Ruleset, *models.Ruleset, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin swap tx: %w", err)
	}
	defer tx.Rollback()

	target, err := scanRuleset(tx.QueryRowContext(ctx,
		`SELECT `+rulesetColumns+` FROM rulesets WHERE id = $1 FOR UPDATE`, uuid.UUID(targetID)))
	if err != nil {
		return nil, nil, err
	}

	current, err := scanRuleset(tx.QueryRowContext(ctx, `
		SELECT `+rulesetColumns+` FROM rulesets
		WHERE domain = $1 AND jurisdiction = $2 AND status = 'active' AND id <> $3
		FOR UPDATE`,
		target.Domain, target.Jurisdiction, uuid.UUID(targetID)))
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil, err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		current = nil
	}

	if err := validate(target, current); err != nil {
		return nil, nil, err
	}

	mutate(target, current)

	if current != nil {
		if err := updateStatus(ctx, tx, current); err != nil {
			return nil, nil, err
		}
	}
	if err := updateStatus(ctx, tx, target); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit swap tx: %w", err)
	}
	return target, current, nil
}

func updateStatus(ctx context.Context, tx *sql.Tx, rs *models.Ruleset) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE rulesets
		SET status = $2, published_by = $3, published_at = $4
		WHERE id = $1`,
		uuid.UUID(rs.ID), string(rs.Status), rs.PublishedBy, rs.PublishedAt)
	if err != nil {
		return fmt.Errorf("update ruleset status: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleset(row rowScanner) (*models.Ruleset, error) {
	var (
		rs          models.Ruleset
		id          uuid.UUID
		status      string
		publishedBy sql.NullString
		publishedAt sql.NullTime
		effFrom     sql.NullTime
		effTo       sql.NullTime
	)
	err := row.Scan(
		&id, &rs.Domain, &rs.Jurisdiction, &rs.RulesetVersion, &rs.RulebookVersion,
		&rs.Content.Checksum, &rs.Content.Location, &status, &rs.RuleCount,
		&effFrom, &effTo,
		&rs.CreatedBy, &rs.CreatedAt, &publishedBy, &publishedAt, &rs.Notes,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ruleset: %w", err)
	}

	rs.ID = domain.RulesetID(id)
	rs.Status = models.Status(status)
	if publishedBy.Valid {
		rs.PublishedBy = publishedBy.String
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		rs.PublishedAt = &t
	}
	if effFrom.Valid {
		t := effFrom.Time
		rs.EffectiveFrom = &t
	}
	if effTo.Valid {
		t := effTo.Time
		rs.EffectiveTo = &t
	}
	return &rs, nil
}
