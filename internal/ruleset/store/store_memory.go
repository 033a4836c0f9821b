package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"rulegate/internal/ruleset/models"
	"rulegate/pkg/domain"
	"rulegate/pkg/platform/sentinel"
)

// InMemory keeps rulesets and their content blobs in maps. The RWMutex gives
// readers snapshot consistency: activation swaps happen under the write lock,
// so a concurrent FindActive observes either the pre- or post-swap state,
// never an intermediate one.
type InMemory struct {
	mu       sync.RWMutex
	rulesets map[domain.RulesetID]*models.Ruleset
	content  map[domain.RulesetID][]byte
	active   map[string]domain.RulesetID // scope key -> active ruleset
}

func NewInMemory() *InMemory {
	return &InMemory{
		rulesets: make(map[domain.RulesetID]*models.Ruleset),
		content:  make(map[domain.RulesetID][]byte),
		active:   make(map[string]domain.RulesetID),
	}
}

func (s *InMemory) CreateIfVersionAvailable(_ context.Context, rs *models.Ruleset, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.rulesets {
		if existing.Domain == rs.Domain &&
			existing.Jurisdiction == rs.Jurisdiction &&
			strings.EqualFold(existing.RulesetVersion, rs.RulesetVersion) {
			return sentinel.ErrConflict
		}
	}

	s.rulesets[rs.ID] = rs.Clone()
	s.content[rs.ID] = append([]byte(nil), content...)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.RulesetID) (*models.Ruleset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs, ok := s.rulesets[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rs.Clone(), nil
}

func (s *InMemory) FindActive(_ context.Context, scope models.ScopeKey) (*models.Ruleset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.active[scope.Key()]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.rulesets[id].Clone(), nil
}

func (s *InMemory) List(_ context.Context, filter Filter, page Page) ([]*models.Ruleset, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Ruleset
	for _, rs := range s.rulesets {
		if filter.Domain != "" && rs.Domain != filter.Domain {
			continue
		}
		if filter.Jurisdiction != "" && rs.Jurisdiction != filter.Jurisdiction {
			continue
		}
		if filter.Status != "" && rs.Status != filter.Status {
			continue
		}
		matched = append(matched, rs.Clone())
	}

	// Newest first; ties broken by ID for a stable order.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := len(matched)
	page = page.Normalize()
	start := page.Offset()
	if start >= total {
		return nil, total, nil
	}
	end := start + page.Size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *InMemory) GetContent(_ context.Context, id domain.RulesetID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.content[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return append([]byte(nil), raw...), nil
}

func (s *InMemory) ExecuteSwap(
	_ context.Context,
	targetID domain.RulesetID,
	validate func(target, current *models.Ruleset) error,
	mutate func(target, current *models.Ruleset),
) (*models.Ruleset, *models.Ruleset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.rulesets[targetID]
	if !ok {
		return nil, nil, sentinel.ErrNotFound
	}

	var current *models.Ruleset
	if activeID, ok := s.active[target.Scope().Key()]; ok && activeID != targetID {
		current = s.rulesets[activeID]
	}

	if err := validate(target, current); err != nil {
		return nil, nil, err
	}

	mutate(target, current)
	s.active[target.Scope().Key()] = target.ID

	var displaced *models.Ruleset
	if current != nil {
		displaced = current.Clone()
	}
	return target.Clone(), displaced, nil
}

// Clear resets the store between tests.
func (s *InMemory) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rulesets = make(map[domain.RulesetID]*models.Ruleset)
	s.content = make(map[domain.RulesetID][]byte)
	s.active = make(map[string]domain.RulesetID)
}
