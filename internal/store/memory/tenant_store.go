package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tunnelkeep/tunnelkeep/internal/models"
	"github.com/tunnelkeep/tunnelkeep/internal/store"
)

// TenantStore implements store.TenantStore using in-memory storage.
// Used for tests and development mode - data is lost on restart.
type TenantStore struct {
	mu sync.RWMutex

	tenants map[uuid.UUID]*models.Tenant // tenant_id -> Tenant
}

// NewTenantStore creates a new in-memory tenant store.
func NewTenantStore() *TenantStore {
	return &TenantStore{
		tenants: make(map[uuid.UUID]*models.Tenant),
	}
}

func cloneTenant(t *models.Tenant) *models.Tenant {
	clone := *t
	clone.AdminUserIDs = slices.Clone(t.AdminUserIDs)
	return &clone
}

// Create creates a new tenant in memory.
func (s *TenantStore) Create(ctx context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tenants[tenant.TenantID]; exists {
		return store.ErrTenantAlreadyExists
	}
	for _, existing := range s.tenants {
		if existing.Name == tenant.Name {
			return store.ErrTenantAlreadyExists
		}
	}

	s.tenants[tenant.TenantID] = cloneTenant(tenant)
	return nil
}

// Get retrieves a tenant by ID.
func (s *TenantStore) Get(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant, exists := s.tenants[tenantID]
	if !exists {
		return nil, store.ErrTenantNotFound
	}

	return cloneTenant(tenant), nil
}

// GetByName retrieves a tenant by its unique display name.
func (s *TenantStore) GetByName(ctx context.Context, name string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tenant := range s.tenants {
		if tenant.Name == name {
			return cloneTenant(tenant), nil
		}
	}
	return nil, store.ErrTenantNotFound
}

// Update updates an existing tenant.
func (s *TenantStore) Update(ctx context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tenants[tenant.TenantID]; !exists {
		return store.ErrTenantNotFound
	}

	tenant.UpdatedAt = time.Now()
	s.tenants[tenant.TenantID] = cloneTenant(tenant)
	return nil
}

// Delete deletes a tenant by ID.
// Note: the in-memory implementation doesn't cascade tunnels and groups;
// the caller is responsible for deleting owned resources first.
func (s *TenantStore) Delete(ctx context.Context, tenantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tenants[tenantID]; !exists {
		return store.ErrTenantNotFound
	}

	delete(s.tenants, tenantID)
	return nil
}

// List returns all tenants.
func (s *TenantStore) List(ctx context.Context) ([]*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Tenant, 0, len(s.tenants))
	for _, tenant := range s.tenants {
		result = append(result, cloneTenant(tenant))
	}

	slices.SortFunc(result, func(a, b *models.Tenant) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

// ListForAdmin returns tenants that have the given user in their admin set.
func (s *TenantStore) ListForAdmin(ctx context.Context, userID string) ([]*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Tenant
	for _, tenant := range s.tenants {
		if tenant.HasAdmin(userID) {
			result = append(result, cloneTenant(tenant))
		}
	}

	slices.SortFunc(result, func(a, b *models.Tenant) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}
