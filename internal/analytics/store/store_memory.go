package store

import (
	"context"
	"sync"
	"time"

	"rulegate/internal/analytics/models"
)

// InMemory keeps application events in insertion order.
type InMemory struct {
	mu     sync.RWMutex
	events []models.ApplicationEvent
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(_ context.Context, ev models.ApplicationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *InMemory) ListRange(_ context.Context, from, to time.Time) ([]models.ApplicationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ApplicationEvent
	for _, ev := range s.events {
		if !from.IsZero() && ev.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !ev.Timestamp.Before(to) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Clear resets the store between tests.
func (s *InMemory) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
