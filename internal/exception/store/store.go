// Package store defines the exception repository contract.
package store

import (
	"context"
	"time"

	"rulegate/internal/exception/models"
	"rulegate/pkg/domain"
)

// Query narrows ListActive results. RuleCode "" matches every rule; a nil
// Scope skips scope matching.
type Query struct {
	RuleCode string
	Scope    *domain.Scope
	At       time.Time
}

// Store is the exception repository. Exceptions are independent rows: no
// cross-record coordination is needed beyond durability, so there is no
// Execute-style write path here.
type Store interface {
	Create(ctx context.Context, e *models.Exception) error
	FindByID(ctx context.Context, id domain.ExceptionID) (*models.Exception, error)
	// Delete removes the exception permanently, returning
	// sentinel.ErrNotFound for unknown ids.
	Delete(ctx context.Context, id domain.ExceptionID) error
	// ListActive returns the tenant's non-expired exceptions matching the
	// query, in creation order.
	ListActive(ctx context.Context, tenant domain.TenantID, q Query) ([]*models.Exception, error)
	// ListAll returns every stored exception, expired included, for
	// analytics aggregation.
	ListAll(ctx context.Context) ([]*models.Exception, error)
}
