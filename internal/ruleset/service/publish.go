package service

import (
	"context"
	"errors"
	"time"

	"rulegate/internal/audit"
	"rulegate/internal/ruleset/models"
	"rulegate/pkg/domain"
	dErrors "rulegate/pkg/domain-errors"
	"rulegate/pkg/platform/sentinel"
	"rulegate/pkg/requestcontext"
)

type transitionKind string

const (
	transitionPublish  transitionKind = "publish"
	transitionRollback transitionKind = "rollback"
)

func (k transitionKind) action() audit.Action {
	if k == transitionRollback {
		return audit.ActionRollback
	}
	return audit.ActionPublish
}

// Publish activates a draft ruleset for its scope, archiving whichever
// ruleset the scope had active. The swap is atomic: readers observe either
// the old active or the new one, never both or neither.
func (s *Service) Publish(ctx context.Context, id domain.RulesetID) (*models.Ruleset, error) {
	return s.transition(ctx, id, transitionPublish)
}

// Rollback re-activates an archived ruleset, archiving the current active
// one. Content is restored exactly as it was; only the status and publish
// stamps change.
func (s *Service) Rollback(ctx context.Context, id domain.RulesetID) (*models.Ruleset, error) {
	return s.transition(ctx, id, transitionRollback)
}

func (s *Service) transition(ctx context.Context, id domain.RulesetID, kind transitionKind) (*models.Ruleset, error) {
	started := time.Now()

	// First load establishes the scope so we can take the scope lock; the
	// swap revalidates state under the lock, so a stale read here is harmless.
	target, err := s.rulesets.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.metrics.IncrementTransition(string(kind), "not_found")
		return nil, dErrors.Newf(dErrors.CodeNotFound, "ruleset %s not found", id)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find ruleset")
	}

	unlock := s.locks.Lock(target.Scope().Key())
	defer unlock()

	validate := func(target, _ *models.Ruleset) error {
		if kind == transitionRollback {
			return target.CanRollback()
		}
		return target.CanPublish()
	}
	mutate := func(target, current *models.Ruleset) {
		target.ApplyActivate(requestcontext.Now(ctx), requestcontext.ActorID(ctx))
		if current != nil {
			current.ApplyArchive()
		}
	}

	updated, displaced, err := s.rulesets.ExecuteSwap(ctx, id, validate, mutate)
	if err != nil {
		s.metrics.IncrementTransition(string(kind), "rejected")
		var de *dErrors.Error
		if errors.As(err, &de) {
			return nil, err
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "ruleset %s not found", id)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "activation swap")
	}

	if err := s.recordTransition(ctx, kind, updated, displaced); err != nil {
		// The swap is committed; surface the audit gap rather than hide it.
		s.metrics.IncrementTransition(string(kind), "audit_failed")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record audit trail")
	}

	s.metrics.IncrementTransition(string(kind), "applied")
	s.metrics.ObserveTransitionLatency(time.Since(started))

	attrs := []any{
		"ruleset_id", updated.ID,
		"scope", updated.Scope().Key(),
		"version", updated.RulesetVersion,
		"kind", string(kind),
	}
	if displaced != nil {
		attrs = append(attrs, "displaced_id", displaced.ID)
	}
	s.logger.InfoContext(ctx, "ruleset activated", attrs...)
	return updated, nil
}

// recordTransition writes the audit trail for an activation. When a ruleset
// was displaced the archive and activation entries are written as an atomic,
// cross-referencing pair.
func (s *Service) recordTransition(ctx context.Context, kind transitionKind, updated, displaced *models.Ruleset) error {
	if s.auditor == nil {
		return nil
	}

	activation := audit.Entry{
		ID:          domain.NewAuditID(),
		SubjectType: audit.SubjectRuleset,
		SubjectID:   updated.ID.String(),
		Action:      kind.action(),
		Detail: map[string]any{
			"version": updated.RulesetVersion,
			"scope":   updated.Scope().Key(),
		},
	}

	if displaced == nil {
		return s.auditor.Emit(ctx, activation)
	}

	archive := audit.Entry{
		ID:          domain.NewAuditID(),
		SubjectType: audit.SubjectRuleset,
		SubjectID:   displaced.ID.String(),
		Action:      audit.ActionArchive,
		Detail: map[string]any{
			"version":                displaced.RulesetVersion,
			"scope":                  displaced.Scope().Key(),
			"displaced_by":           updated.ID.String(),
			audit.DetailRelatedEntry: activation.ID.String(),
		},
	}
	activation.Detail[audit.DetailDisplaced] = displaced.ID.String()
	activation.Detail[audit.DetailRelatedEntry] = archive.ID.String()

	return s.auditor.EmitPair(ctx, archive, activation)
}
