package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"rulegate/internal/exception/models"
	"rulegate/pkg/domain"
	"rulegate/pkg/platform/sentinel"
)

// PostgresStore is the durable exception repository. Tenant, rule code, and
// expiry filter in SQL against the (tenant_id, rule_code, expires_at) index;
// scope wildcard matching happens in Go because the match semantics live in
// the model.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const exceptionColumns = `
	id, tenant_id, rule_code, scope_client, scope_branch, scope_product,
	effect, reason, override_severity, override_passed, expires_at,
	created_by, created_at
`

func (s *PostgresStore) Create(ctx context.Context, e *models.Exception) error {
	query := `
		INSERT INTO exceptions (` + exceptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	var overrideSeverity sql.NullString
	if e.OverrideSeverity != "" {
		overrideSeverity = sql.NullString{String: string(e.OverrideSeverity), Valid: true}
	}
	var overridePassed sql.NullBool
	if e.OverridePassed != nil {
		overridePassed = sql.NullBool{Bool: *e.OverridePassed, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(e.ID), string(e.TenantID), e.RuleCode,
		e.Scope.Client, e.Scope.Branch, e.Scope.Product,
		string(e.Effect), e.Reason, overrideSeverity, overridePassed, e.ExpiresAt,
		e.CreatedBy, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert exception: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.ExceptionID) (*models.Exception, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+exceptionColumns+` FROM exceptions WHERE id = $1`, uuid.UUID(id))
	return scanException(row)
}

func (s *PostgresStore) Delete(ctx context.Context, id domain.ExceptionID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM exceptions WHERE id = $1`, uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("delete exception: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete exception: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListActive(ctx context.Context, tenant domain.TenantID, q Query) ([]*models.Exception, error) {
	query := `
		SELECT ` + exceptionColumns + ` FROM exceptions
		WHERE tenant_id = $1
		  AND (expires_at IS NULL OR expires_at > $2)
		  AND ($3 = '' OR rule_code = $3)
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, string(tenant), q.At, q.RuleCode)
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	defer rows.Close()

	var out []*models.Exception
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		if q.Scope != nil && !e.Scope.Matches(*q.Scope) {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]*models.Exception, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+exceptionColumns+` FROM exceptions ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list all exceptions: %w", err)
	}
	defer rows.Close()

	var out []*models.Exception
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanException(row rowScanner) (*models.Exception, error) {
	var (
		e                models.Exception
		id               uuid.UUID
		tenant           string
		effect           string
		overrideSeverity sql.NullString
		overridePassed   sql.NullBool
		expiresAt        sql.NullTime
	)
	err := row.Scan(&id, &tenant, &e.RuleCode,
		&e.Scope.Client, &e.Scope.Branch, &e.Scope.Product,
		&effect, &e.Reason, &overrideSeverity, &overridePassed, &expiresAt,
		&e.CreatedBy, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan exception: %w", err)
	}

	e.ID = domain.ExceptionID(id)
	e.TenantID = domain.TenantID(tenant)
	e.Effect = domain.Effect(effect)
	if overrideSeverity.Valid {
		e.OverrideSeverity = domain.Severity(overrideSeverity.String)
	}
	if overridePassed.Valid {
		v := overridePassed.Bool
		e.OverridePassed = &v
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		e.ExpiresAt = &t
	}
	return &e, nil
}
