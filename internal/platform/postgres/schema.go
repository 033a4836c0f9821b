// Package postgres holds the database schema and applies it at startup.
// Statements are idempotent so repeated starts against the same database are
// safe.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
	CREATE TABLE IF NOT EXISTS rulesets (
		id               UUID PRIMARY KEY,
		domain           TEXT NOT NULL,
		jurisdiction     TEXT NOT NULL,
		ruleset_version  TEXT NOT NULL,
		rulebook_version TEXT NOT NULL,
		checksum         TEXT NOT NULL,
		content_location TEXT NOT NULL,
		content          JSONB NOT NULL,
		status           TEXT NOT NULL,
		rule_count       INTEGER NOT NULL,
		effective_from   TIMESTAMPTZ,
		effective_to     TIMESTAMPTZ,
		created_by       TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL,
		published_by     TEXT NOT NULL DEFAULT '',
		published_at     TIMESTAMPTZ,
		notes            TEXT NOT NULL DEFAULT '',
		UNIQUE (domain, jurisdiction, ruleset_version)
	);
	CREATE INDEX IF NOT EXISTS idx_rulesets_scope_status
		ON rulesets (domain, jurisdiction, status);

	CREATE TABLE IF NOT EXISTS overlays (
		id           UUID PRIMARY KEY,
		tenant_id    TEXT NOT NULL,
		version      INTEGER NOT NULL,
		config       JSONB NOT NULL,
		status       TEXT NOT NULL,
		created_by   TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		published_by TEXT NOT NULL DEFAULT '',
		published_at TIMESTAMPTZ,
		UNIQUE (tenant_id, version)
	);
	CREATE INDEX IF NOT EXISTS idx_overlays_tenant_status
		ON overlays (tenant_id, status);

	CREATE TABLE IF NOT EXISTS exceptions (
		id                UUID PRIMARY KEY,
		tenant_id         TEXT NOT NULL,
		rule_code         TEXT NOT NULL,
		scope_client      TEXT NOT NULL,
		scope_branch      TEXT NOT NULL,
		scope_product     TEXT NOT NULL,
		effect            TEXT NOT NULL,
		reason            TEXT NOT NULL,
		override_severity TEXT,
		override_passed   BOOLEAN,
		expires_at        TIMESTAMPTZ,
		created_by        TEXT NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_exceptions_tenant_rule
		ON exceptions (tenant_id, rule_code, expires_at);

	CREATE TABLE IF NOT EXISTS audit_entries (
		id           UUID PRIMARY KEY,
		subject_type TEXT NOT NULL,
		subject_id   TEXT NOT NULL,
		action       TEXT NOT NULL,
		actor        TEXT NOT NULL,
		occurred_at  TIMESTAMPTZ NOT NULL,
		detail       JSONB
	);
	CREATE INDEX IF NOT EXISTS idx_audit_subject
		ON audit_entries (subject_type, subject_id);
	CREATE INDEX IF NOT EXISTS idx_audit_occurred_at
		ON audit_entries (occurred_at);

	CREATE TABLE IF NOT EXISTS policy_application_events (
		id                       UUID PRIMARY KEY,
		session_ref              TEXT NOT NULL,
		tenant_id                TEXT NOT NULL,
		ruleset_id               UUID NOT NULL,
		ruleset_version          TEXT NOT NULL,
		overlay_id               UUID,
		overlay_version          INTEGER,
		consulted_exception_ids  JSONB NOT NULL,
		applied_exception_ids    JSONB NOT NULL,
		rule_changes             JSONB NOT NULL,
		pre_count                INTEGER NOT NULL,
		post_count               INTEGER NOT NULL,
		timestamp                TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp
		ON policy_application_events (timestamp);
`

// ApplySchema creates all tables and indexes the stores expect.
func ApplySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
