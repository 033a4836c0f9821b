package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"rulegate/internal/audit"
	"rulegate/pkg/domain"
)

// Store persists audit entries in the audit_entries table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const insertEntry = `
	INSERT INTO audit_entries (id, subject_type, subject_id, action, actor, occurred_at, detail)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	detail, err := marshalDetail(entry.Detail)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, insertEntry,
		uuid.UUID(entry.ID),
		string(entry.SubjectType),
		entry.SubjectID,
		string(entry.Action),
		entry.Actor,
		entry.Timestamp,
		detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) AppendPair(ctx context.Context, first, second audit.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit pair tx: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range []audit.Entry{first, second} {
		detail, err := marshalDetail(entry.Detail)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insertEntry,
			uuid.UUID(entry.ID),
			string(entry.SubjectType),
			entry.SubjectID,
			string(entry.Action),
			entry.Actor,
			entry.Timestamp,
			detail,
		); err != nil {
			return fmt.Errorf("insert audit pair entry: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) List(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	query := `
		SELECT id, subject_type, subject_id, action, actor, occurred_at, detail
		FROM audit_entries
		WHERE ($1 = '' OR subject_type = $1)
		  AND ($2 = '' OR subject_id = $2)
		  AND ($3 = '' OR action = $3)
		  AND ($4::timestamptz IS NULL OR occurred_at >= $4)
		  AND ($5::timestamptz IS NULL OR occurred_at <= $5)
		ORDER BY occurred_at ASC, id ASC
	`
	from := sql.NullTime{Time: filter.From, Valid: !filter.From.IsZero()}
	to := sql.NullTime{Time: filter.To, Valid: !filter.To.IsZero()}

	rows, err := s.db.QueryContext(ctx, query,
		string(filter.SubjectType), filter.SubjectID, string(filter.Action), from, to)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			entry      audit.Entry
			entryID    uuid.UUID
			rawDetail  []byte
			subject    string
			actionName string
		)
		if err := rows.Scan(&entryID, &subject, &entry.SubjectID, &actionName, &entry.Actor, &entry.Timestamp, &rawDetail); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.ID = domain.AuditID(entryID)
		entry.SubjectType = audit.SubjectType(subject)
		entry.Action = audit.Action(actionName)
		if len(rawDetail) > 0 {
			if err := json.Unmarshal(rawDetail, &entry.Detail); err != nil {
				return nil, fmt.Errorf("decode audit detail: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func marshalDetail(detail map[string]any) ([]byte, error) {
	if detail == nil {
		return nil, nil
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("marshal audit detail: %w", err)
	}
	return raw, nil
}
