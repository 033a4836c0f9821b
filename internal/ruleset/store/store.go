// Package store defines the ruleset repository contract. Implementations:
// the in-memory store (development, tests) and the Postgres store.
package store

import (
	"context"

	"rulegate/internal/ruleset/models"
	"rulegate/pkg/domain"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Domain       string
	Jurisdiction string
	Status       models.Status
}

// Page selects one page of results. Number is 1-based.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps page parameters to sane defaults.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 || p.Size > 200 {
		p.Size = 50
	}
	return p
}

// Offset returns the number of records to skip.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// Store is the ruleset repository.
//
// ExecuteSwap is the single write path for activation transitions: it loads
// the target and the currently active ruleset of the same scope, runs the
// validation callback, then applies the mutation callback, all atomically
// with respect to concurrent readers and writers, so no observer ever sees
// zero or two active rulesets for a scope. It returns the updated target and
// the displaced ruleset (nil if the scope had no active one).
type Store interface {
	// CreateIfVersionAvailable persists a draft and its content blob,
	// returning sentinel.ErrConflict when the version already exists within
	// the scope.
	CreateIfVersionAvailable(ctx context.Context, rs *models.Ruleset, content []byte) error
	FindByID(ctx context.Context, id domain.RulesetID) (*models.Ruleset, error)
	// FindActive returns the single active ruleset for the scope, or
	// sentinel.ErrNotFound.
	FindActive(ctx context.Context, scope models.ScopeKey) (*models.Ruleset, error)
	List(ctx context.Context, filter Filter, page Page) ([]*models.Ruleset, int, error)
	GetContent(ctx context.Context, id domain.RulesetID) ([]byte, error)
	ExecuteSwap(
		ctx context.Context,
		targetID domain.RulesetID,
		validate func(target, current *models.Ruleset) error,
		mutate func(target, current *models.Ruleset),
	) (target, displaced *models.Ruleset, err error)
}
