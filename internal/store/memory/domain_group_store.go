package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/tunnelkeep/tunnelkeep/internal/models"
	"github.com/tunnelkeep/tunnelkeep/internal/store"
)

// DomainGroupStore implements store.DomainGroupStore using in-memory storage.
type DomainGroupStore struct {
	mu sync.RWMutex

	groups map[uuid.UUID]*models.DomainGroup // group_id -> DomainGroup
}

// NewDomainGroupStore creates a new in-memory domain group store.
func NewDomainGroupStore() *DomainGroupStore {
	return &DomainGroupStore{
		groups: make(map[uuid.UUID]*models.DomainGroup),
	}
}

func cloneGroup(g *models.DomainGroup) *models.DomainGroup {
	clone := *g
	clone.Domains = slices.Clone(g.Domains)
	return &clone
}

// Create creates a new domain group in memory.
func (s *DomainGroupStore) Create(ctx context.Context, group *models.DomainGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[group.GroupID]; exists {
		return store.ErrDomainGroupAlreadyExists
	}

	s.groups[group.GroupID] = cloneGroup(group)
	return nil
}

// Get retrieves a domain group by ID.
func (s *DomainGroupStore) Get(ctx context.Context, groupID uuid.UUID) (*models.DomainGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, exists := s.groups[groupID]
	if !exists {
		return nil, store.ErrDomainGroupNotFound
	}

	return cloneGroup(group), nil
}

// Update replaces an existing domain group.
func (s *DomainGroupStore) Update(ctx context.Context, group *models.DomainGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[group.GroupID]; !exists {
		return store.ErrDomainGroupNotFound
	}

	s.groups[group.GroupID] = cloneGroup(group)
	return nil
}

// Delete removes a domain group.
func (s *DomainGroupStore) Delete(ctx context.Context, groupID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[groupID]; !exists {
		return store.ErrDomainGroupNotFound
	}

	delete(s.groups, groupID)
	return nil
}

// ListByTenant returns all domain groups owned by a tenant.
func (s *DomainGroupStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.DomainGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.DomainGroup
	for _, group := range s.groups {
		if group.TenantID == tenantID {
			result = append(result, cloneGroup(group))
		}
	}

	slices.SortFunc(result, func(a, b *models.DomainGroup) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

// DeleteByTenant removes all groups owned by a tenant.
func (s *DomainGroupStore) DeleteByTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toDelete []uuid.UUID
	for id, group := range s.groups {
		if group.TenantID == tenantID {
			toDelete = append(toDelete, id)
		}
	}

	for _, id := range toDelete {
		delete(s.groups, id)
	}
	return len(toDelete), nil
}
