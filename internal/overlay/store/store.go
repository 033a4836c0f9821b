// Package store defines the overlay repository contract.
package store

import (
	"context"

	"rulegate/internal/overlay/models"
	"rulegate/pkg/domain"
)

// Store is the overlay repository.
//
// Create assigns the tenant's next monotonic version number. ExecuteReplace
// is the single write path for overlay publishes: it loads the target and the
// tenant's currently active overlay, runs validation, applies the mutation,
// and commits atomically so no reader ever sees zero or two active overlays
// for a tenant. The displaced overlay (nil if none) is returned alongside the
// updated target.
type Store interface {
	Create(ctx context.Context, o *models.Overlay) error
	FindByID(ctx context.Context, id domain.OverlayID) (*models.Overlay, error)
	// FindActive returns the tenant's single active overlay, or
	// sentinel.ErrNotFound.
	FindActive(ctx context.Context, tenant domain.TenantID) (*models.Overlay, error)
	// ListByTenant returns the tenant's full overlay history, newest version
	// first.
	ListByTenant(ctx context.Context, tenant domain.TenantID) ([]*models.Overlay, error)
	// ListActive returns every tenant's active overlay, for adoption
	// reporting.
	ListActive(ctx context.Context) ([]*models.Overlay, error)
	ExecuteReplace(
		ctx context.Context,
		targetID domain.OverlayID,
		validate func(target, current *models.Overlay) error,
		mutate func(target, current *models.Overlay),
	) (target, displaced *models.Overlay, err error)
}
