package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rulegate/internal/analytics/models"
	"rulegate/pkg/domain"
)

// PostgresStore is the durable application-event repository. Exception id
// lists and rule changes are JSONB payloads: analytics reads whole events, so
// there is nothing to gain from normalizing them into rows.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, ev models.ApplicationEvent) error {
	consulted, err := json.Marshal(ev.ConsultedIDs)
	if err != nil {
		return fmt.Errorf("encode consulted ids: %w", err)
	}
	applied, err := json.Marshal(ev.AppliedIDs)
	if err != nil {
		return fmt.Errorf("encode applied ids: %w", err)
	}
	changes, err := json.Marshal(ev.RuleChanges)
	if err != nil {
		return fmt.Errorf("encode rule changes: %w", err)
	}

	var overlayID any
	if ev.OverlayID != nil {
		overlayID = uuid.UUID(*ev.OverlayID)
	}

	query := `
		INSERT INTO policy_application_events (
			id, session_ref, tenant_id, ruleset_id, ruleset_version,
			overlay_id, overlay_version, consulted_exception_ids,
			applied_exception_ids, rule_changes, pre_count, post_count, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(ev.ID), ev.SessionRef, string(ev.TenantID),
		uuid.UUID(ev.RulesetID), ev.RulesetVersion,
		overlayID, ev.OverlayVersion, consulted, applied, changes,
		ev.PreCount, ev.PostCount, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert application event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRange(ctx context.Context, from, to time.Time) ([]models.ApplicationEvent, error) {
	query := `
		SELECT id, session_ref, tenant_id, ruleset_id, ruleset_version,
		       overlay_id, overlay_version, consulted_exception_ids,
		       applied_exception_ids, rule_changes, pre_count, post_count, timestamp
		FROM policy_application_events
		WHERE ($1::timestamptz IS NULL OR timestamp >= $1)
		  AND ($2::timestamptz IS NULL OR timestamp < $2)
		ORDER BY timestamp ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, nullTime(from), nullTime(to))
	if err != nil {
		return nil, fmt.Errorf("list application events: %w", err)
	}
	defer rows.Close()

	var out []models.ApplicationEvent
	for rows.Next() {
		var (
			ev             models.ApplicationEvent
			id             uuid.UUID
			tenant         string
			rulesetID      uuid.UUID
			overlayID      *uuid.UUID
			overlayVersion sql.NullInt64
			consulted      []byte
			applied        []byte
			changes        []byte
		)
		err := rows.Scan(&id, &ev.SessionRef, &tenant, &rulesetID, &ev.RulesetVersion,
			&overlayID, &overlayVersion, &consulted, &applied, &changes,
			&ev.PreCount, &ev.PostCount, &ev.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("scan application event: %w", err)
		}

		ev.ID = domain.EventID(id)
		ev.TenantID = domain.TenantID(tenant)
		ev.RulesetID = domain.RulesetID(rulesetID)
		if overlayID != nil {
			oid := domain.OverlayID(*overlayID)
			ev.OverlayID = &oid
		}
		if overlayVersion.Valid {
			v := int(overlayVersion.Int64)
			ev.OverlayVersion = &v
		}
		if err := json.Unmarshal(consulted, &ev.ConsultedIDs); err != nil {
			return nil, fmt.Errorf("decode consulted ids: %w", err)
		}
		if err := json.Unmarshal(applied, &ev.AppliedIDs); err != nil {
			return nil, fmt.Errorf("decode applied ids: %w", err)
		}
		if err := json.Unmarshal(changes, &ev.RuleChanges); err != nil {
			return nil, fmt.Errorf("decode rule changes: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
