package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/tunnelkeep/tunnelkeep/internal/models"
)

// Sentinel errors for tenant store operations
var (
	ErrTenantNotFound      = errors.New("tenant not found")
	ErrTenantAlreadyExists = errors.New("tenant already exists")
)

// TenantStore defines the interface for tenant credential storage.
// This is the system's source of per-tenant identity: API token, account ID
// and the set of assigned admin users.
type TenantStore interface {
	// Create creates a new tenant.
	// Returns ErrTenantAlreadyExists if a tenant with the same ID or name exists.
	Create(ctx context.Context, tenant *models.Tenant) error

	// Get retrieves a tenant by ID.
	// Returns ErrTenantNotFound if the tenant doesn't exist.
	Get(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error)

	// GetByName retrieves a tenant by its unique display name.
	GetByName(ctx context.Context, name string) (*models.Tenant, error)

	// Update updates an existing tenant (admin set, token rotation).
	// Returns ErrTenantNotFound if the tenant doesn't exist.
	Update(ctx context.Context, tenant *models.Tenant) error

	// Delete deletes a tenant by ID. Owned tunnels and domain groups are
	// cascade-deleted; sessions referencing the tenant are resolved lazily.
	Delete(ctx context.Context, tenantID uuid.UUID) error

	// List returns all tenants.
	List(ctx context.Context) ([]*models.Tenant, error)

	// ListForAdmin returns the tenants that have the given user in their
	// admin set.
	ListForAdmin(ctx context.Context, userID string) ([]*models.Tenant, error)
}
