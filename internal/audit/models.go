// Package audit records every state transition in the engine: uploads,
// validations, publishes, archives, rollbacks, and exception edits. Entries
// are append-only and never mutated once written.
package audit

import (
	"time"

	"rulegate/pkg/domain"
)

// SubjectType identifies which kind of record an entry is about.
type SubjectType string

const (
	SubjectRuleset   SubjectType = "ruleset"
	SubjectOverlay   SubjectType = "overlay"
	SubjectException SubjectType = "exception"
)

// Action is the recorded state transition.
type Action string

const (
	ActionUpload   Action = "upload"
	ActionValidate Action = "validate"
	ActionPublish  Action = "publish"
	ActionArchive  Action = "archive"
	ActionRollback Action = "rollback"
	ActionCreate   Action = "create"
	ActionDelete   Action = "delete"
)

// Entry is one append-only audit record. Detail carries structured context
// such as which record a publish displaced, or the related entry of an
// archive/publish pair.
type Entry struct {
	ID          domain.AuditID `json:"id"`
	SubjectType SubjectType    `json:"subject_type"`
	SubjectID   string         `json:"subject_id"`
	Action      Action         `json:"action"`
	Actor       string         `json:"actor"`
	Timestamp   time.Time      `json:"timestamp"`
	Detail      map[string]any `json:"detail,omitempty"`
}

// Detail keys shared by writers and readers.
const (
	// DetailRelatedEntry links the two halves of an archive/publish pair.
	DetailRelatedEntry = "related_entry_id"
	// DetailDisplaced names the record a publish or rollback displaced.
	DetailDisplaced = "displaced_id"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	SubjectType SubjectType
	SubjectID   string
	Action      Action
	From        time.Time
	To          time.Time
}

// Matches reports whether the entry passes the filter.
func (f Filter) Matches(e Entry) bool {
	if f.SubjectType != "" && e.SubjectType != f.SubjectType {
		return false
	}
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}
