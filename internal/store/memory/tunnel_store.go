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

// TunnelStore implements store.TunnelStore using in-memory storage.
type TunnelStore struct {
	mu sync.RWMutex

	tunnels map[uuid.UUID]*models.Tunnel // tunnel_id -> Tunnel
}

// NewTunnelStore creates a new in-memory tunnel store.
func NewTunnelStore() *TunnelStore {
	return &TunnelStore{
		tunnels: make(map[uuid.UUID]*models.Tunnel),
	}
}

func cloneTunnel(t *models.Tunnel) *models.Tunnel {
	clone := *t
	clone.Hostnames = slices.Clone(t.Hostnames)
	clone.Networks = slices.Clone(t.Networks)
	return &clone
}

// Create creates a new tunnel record in memory.
func (s *TunnelStore) Create(ctx context.Context, tunnel *models.Tunnel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tunnels[tunnel.TunnelID]; exists {
		return store.ErrTunnelAlreadyExists
	}

	s.tunnels[tunnel.TunnelID] = cloneTunnel(tunnel)
	return nil
}

// Get retrieves a tunnel by ID.
func (s *TunnelStore) Get(ctx context.Context, tunnelID uuid.UUID) (*models.Tunnel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tunnel, exists := s.tunnels[tunnelID]
	if !exists {
		return nil, store.ErrTunnelNotFound
	}

	return cloneTunnel(tunnel), nil
}

// Update replaces an existing tunnel record.
func (s *TunnelStore) Update(ctx context.Context, tunnel *models.Tunnel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tunnels[tunnel.TunnelID]; !exists {
		return store.ErrTunnelNotFound
	}

	tunnel.UpdatedAt = time.Now()
	s.tunnels[tunnel.TunnelID] = cloneTunnel(tunnel)
	return nil
}

// Delete removes a tunnel record.
func (s *TunnelStore) Delete(ctx context.Context, tunnelID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tunnels[tunnelID]; !exists {
		return store.ErrTunnelNotFound
	}

	delete(s.tunnels, tunnelID)
	return nil
}

// ListByTenant returns all tunnels owned by a tenant.
func (s *TunnelStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Tunnel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Tunnel
	for _, tunnel := range s.tunnels {
		if tunnel.TenantID == tenantID {
			result = append(result, cloneTunnel(tunnel))
		}
	}

	slices.SortFunc(result, func(a, b *models.Tunnel) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

// DeleteByTenant removes all tunnels owned by a tenant.
func (s *TunnelStore) DeleteByTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toDelete []uuid.UUID
	for id, tunnel := range s.tunnels {
		if tunnel.TenantID == tenantID {
			toDelete = append(toDelete, id)
		}
	}

	for _, id := range toDelete {
		delete(s.tunnels, id)
	}
	return len(toDelete), nil
}
