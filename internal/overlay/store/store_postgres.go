package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"rulegate/internal/overlay/models"
	"rulegate/pkg/domain"
	"rulegate/pkg/platform/sentinel"
)

// PostgresStore is the durable overlay repository. Version numbers come from
// a max+1 subquery guarded by the (tenant_id, version) unique index; replace
// transitions run in a transaction holding row locks on the target and the
// tenant's active row.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const overlayColumns = `
	id, tenant_id, version, config, status,
	created_by, created_at, published_by, published_at
`

func (s *PostgresStore) Create(ctx context.Context, o *models.Overlay) error {
	config, err := json.Marshal(o.Config)
	if err != nil {
		return fmt.Errorf("encode overlay config: %w", err)
	}

	query := `
		INSERT INTO overlays (id, tenant_id, version, config, status, created_by, created_at)
		VALUES ($1, $2, (SELECT COALESCE(MAX(version), 0) + 1 FROM overlays WHERE tenant_id = $2), $3, $4, $5, $6)
		RETURNING version
	`
	err = s.db.QueryRowContext(ctx, query,
		uuid.UUID(o.ID), string(o.TenantID), config, string(o.Status), o.CreatedBy, o.CreatedAt,
	).Scan(&o.Version)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert overlay: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.OverlayID) (*models.Overlay, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+overlayColumns+` FROM overlays WHERE id = $1`, uuid.UUID(id))
	return scanOverlay(row)
}

func (s *PostgresStore) FindActive(ctx context.Context, tenant domain.TenantID) (*models.Overlay, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+overlayColumns+` FROM overlays WHERE tenant_id = $1 AND status = 'active'`,
		string(tenant))
	return scanOverlay(row)
}

func (s *PostgresStore) ListByTenant(ctx context.Context, tenant domain.TenantID) ([]*models.Overlay, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+overlayColumns+` FROM overlays WHERE tenant_id = $1 ORDER BY version DESC`,
		string(tenant))
	if err != nil {
		return nil, fmt.Errorf("list overlays: %w", err)
	}
	defer rows.Close()

	var out []*models.Overlay
	for rows.Next() {
		o, err := scanOverlay(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]*models.Overlay, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+overlayColumns+` FROM overlays WHERE status = 'active' ORDER BY tenant_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active overlays: %w", err)
	}
	defer rows.Close()

	var out []*models.Overlay
	for rows.Next() {
		o, err := scanOverlay(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ExecuteReplace(
	ctx context.Context,
	targetID domain.OverlayID,
	validate func(target, current *models.Overlay) error,
	mutate func(target, current *models.Overlay),
) (*models.Overlay, *models.Overlay, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin replace tx: %w", err)
	}
	defer tx.Rollback()

	target, err := scanOverlay(tx.QueryRowContext(ctx,
		`SELECT `+overlayColumns+` FROM overlays WHERE id = $1 FOR UPDATE`, uuid.UUID(targetID)))
	if err != nil {
		return nil, nil, err
	}

	current, err := scanOverlay(tx.QueryRowContext(ctx, `
		SELECT `+overlayColumns+` FROM overlays
		WHERE tenant_id = $1 AND status = 'active' AND id <> $2
		FOR UPDATE`,
		string(target.TenantID), uuid.UUID(targetID)))
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
		if err := updateOverlayStatus(ctx, tx, current); err != nil {
			return nil, nil, err
		}
	}
	if err := updateOverlayStatus(ctx, tx, target); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit replace tx: %w", err)
	}
	return target, current, nil
}

func updateOverlayStatus(ctx context.Context, tx *sql.Tx, o *models.Overlay) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE overlays
		SET status = $2, published_by = $3, published_at = $4
		WHERE id = $1`,
		uuid.UUID(o.ID), string(o.Status), o.PublishedBy, o.PublishedAt)
	if err != nil {
		return fmt.Errorf("update overlay status: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOverlay(row rowScanner) (*models.Overlay, error) {
	var (
		o           models.Overlay
		id          uuid.UUID
		tenant      string
		config      []byte
		status      string
		publishedBy sql.NullString
		publishedAt sql.NullTime
	)
	err := row.Scan(&id, &tenant, &o.Version, &config, &status,
		&o.CreatedBy, &o.CreatedAt, &publishedBy, &publishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan overlay: %w", err)
	}

	o.ID = domain.OverlayID(id)
	o.TenantID = domain.TenantID(tenant)
	o.Status = models.Status(status)
	if err := json.Unmarshal(config, &o.Config); err != nil {
		return nil, fmt.Errorf("decode overlay config: %w", err)
	}
	if publishedBy.Valid {
		o.PublishedBy = publishedBy.String
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		o.PublishedAt = &t
	}
	return &o, nil
}
