// Package store defines the application-event repository contract.
package store

import (
	"context"
	"time"

	"rulegate/internal/analytics/models"
)

// Store is the append-only application-event repository.
type Store interface {
	Append(ctx context.Context, ev models.ApplicationEvent) error
	// ListRange returns events with Timestamp in [from, to), oldest first.
	// Zero bounds are open.
	ListRange(ctx context.Context, from, to time.Time) ([]models.ApplicationEvent, error)
}
