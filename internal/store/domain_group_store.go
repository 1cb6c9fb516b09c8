package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/tunnelkeep/tunnelkeep/internal/models"
)

// Sentinel errors for domain group store operations
var (
	ErrDomainGroupNotFound      = errors.New("domain group not found")
	ErrDomainGroupAlreadyExists = errors.New("domain group already exists")
)

// DomainGroupStore persists organizational domain groupings per tenant.
type DomainGroupStore interface {
	// Create creates a new domain group.
	// Returns ErrDomainGroupAlreadyExists if the ID is already in use.
	Create(ctx context.Context, group *models.DomainGroup) error

	// Get retrieves a domain group by ID.
	// Returns ErrDomainGroupNotFound if the group doesn't exist.
	Get(ctx context.Context, groupID uuid.UUID) (*models.DomainGroup, error)

	// Update replaces an existing domain group.
	// Returns ErrDomainGroupNotFound if the group doesn't exist.
	Update(ctx context.Context, group *models.DomainGroup) error

	// Delete removes a domain group.
	// Returns ErrDomainGroupNotFound if the group doesn't exist.
	Delete(ctx context.Context, groupID uuid.UUID) error

	// ListByTenant returns all domain groups owned by a tenant.
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.DomainGroup, error)

	// DeleteByTenant removes all groups owned by a tenant (cascade on
	// tenant deletion). Returns the number of deleted groups.
	DeleteByTenant(ctx context.Context, tenantID uuid.UUID) (int, error)
}
