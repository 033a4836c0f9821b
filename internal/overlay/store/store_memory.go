package store

import (
	"context"
	"sort"
	"sync"

	"rulegate/internal/overlay/models"
	"rulegate/pkg/domain"
	"rulegate/pkg/platform/sentinel"
)

// InMemory keeps overlays in maps. Publishes happen under the write lock, so
// a concurrent FindActive observes either the pre- or post-replace state.
type InMemory struct {
	mu       sync.RWMutex
	overlays map[domain.OverlayID]*models.Overlay
	active   map[domain.TenantID]domain.OverlayID
	versions map[domain.TenantID]int
}

func NewInMemory() *InMemory {
	return &InMemory{
		overlays: make(map[domain.OverlayID]*models.Overlay),
		active:   make(map[domain.TenantID]domain.OverlayID),
		versions: make(map[domain.TenantID]int),
	}
}

func (s *InMemory) Create(_ context.Context, o *models.Overlay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.versions[o.TenantID]++
	o.Version = s.versions[o.TenantID]
	s.overlays[o.ID] = o.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.OverlayID) (*models.Overlay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.overlays[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return o.Clone(), nil
}

func (s *InMemory) FindActive(_ context.Context, tenant domain.TenantID) (*models.Overlay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.active[tenant]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.overlays[id].Clone(), nil
}

func (s *InMemory) ListByTenant(_ context.Context, tenant domain.TenantID) ([]*models.Overlay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Overlay
	for _, o := range s.overlays {
		if o.TenantID == tenant {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (s *InMemory) ListActive(_ context.Context) ([]*models.Overlay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Overlay
	for _, id := range s.active {
		out = append(out, s.overlays[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

func (s *InMemory) ExecuteReplace(
	_ context.Context,
	targetID domain.OverlayID,
	validate func(target, current *models.Overlay) error,
	mutate func(target, current *models.Overlay),
) (*models.Overlay, *models.Overlay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.overlays[targetID]
	if !ok {
		return nil, nil, sentinel.ErrNotFound
	}

	var current *models.Overlay
	if activeID, ok := s.active[target.TenantID]; ok && activeID != targetID {
		current = s.overlays[activeID]
	}

	if err := validate(target, current); err != nil {
		return nil, nil, err
	}

	mutate(target, current)
	s.active[target.TenantID] = target.ID

	var displaced *models.Overlay
	if current != nil {
		displaced = current.Clone()
	}
	return target.Clone(), displaced, nil
}

// Clear resets the store between tests.
func (s *InMemory) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlays = make(map[domain.OverlayID]*models.Overlay)
	s.active = make(map[domain.TenantID]domain.OverlayID)
	s.versions = make(map[domain.TenantID]int)
}
