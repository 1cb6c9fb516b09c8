package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/tunnelkeep/tunnelkeep/internal/models"
)

// Sentinel errors for tunnel store operations
var (
	ErrTunnelNotFound      = errors.New("tunnel not found")
	ErrTunnelAlreadyExists = errors.New("tunnel already exists")
)

// TunnelStore persists tunnel records, including the locally generated
// secret and the last successfully pushed configuration.
type TunnelStore interface {
	// Create creates a new tunnel record.
	// Returns ErrTunnelAlreadyExists if the ID is already in use.
	Create(ctx context.Context, tunnel *models.Tunnel) error

	// Get retrieves a tunnel by ID.
	// Returns ErrTunnelNotFound if the tunnel doesn't exist.
	Get(ctx context.Context, tunnelID uuid.UUID) (*models.Tunnel, error)

	// Update replaces an existing tunnel record.
	// Returns ErrTunnelNotFound if the tunnel doesn't exist.
	Update(ctx context.Context, tunnel *models.Tunnel) error

	// Delete removes a tunnel record.
	// Returns ErrTunnelNotFound if the tunnel doesn't exist.
	Delete(ctx context.Context, tunnelID uuid.UUID) error

	// ListByTenant returns all tunnels owned by a tenant.
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Tunnel, error)

	// DeleteByTenant removes all tunnels owned by a tenant (cascade on
	// tenant deletion). Returns the number of deleted tunnels.
	DeleteByTenant(ctx context.Context, tenantID uuid.UUID) (int, error)
}
