package store

import (
	"context"
	"sort"
	"sync"

	"rulegate/internal/exception/models"
	"rulegate/pkg/domain"
	"rulegate/pkg/platform/sentinel"
)

// InMemory keeps exceptions in a map.
type InMemory struct {
	mu         sync.RWMutex
	exceptions map[domain.ExceptionID]*models.Exception
}

func NewInMemory() *InMemory {
	return &InMemory{exceptions: make(map[domain.ExceptionID]*models.Exception)}
}

func (s *InMemory) Create(_ context.Context, e *models.Exception) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exceptions[e.ID] = e.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.ExceptionID) (*models.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.exceptions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *InMemory) Delete(_ context.Context, id domain.ExceptionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.exceptions[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.exceptions, id)
	return nil
}

func (s *InMemory) ListActive(_ context.Context, tenant domain.TenantID, q Query) ([]*models.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Exception
	for _, e := range s.exceptions {
		if e.TenantID != tenant || !e.IsActiveAt(q.At) {
			continue
		}
		if q.RuleCode != "" && e.RuleCode != q.RuleCode {
			continue
		}
		if q.Scope != nil && !e.Scope.Matches(*q.Scope) {
			continue
		}
		out = append(out, e.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *InMemory) ListAll(_ context.Context) ([]*models.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Exception, 0, len(s.exceptions))
	for _, e := range s.exceptions {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// Clear resets the store between tests.
func (s *InMemory) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exceptions = make(map[domain.ExceptionID]*models.Exception)
}
