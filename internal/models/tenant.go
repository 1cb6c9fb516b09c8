package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Tenant represents an isolated Cloudflare account managed by the system.
// Each tenant carries its own API token and account ID; every remote call
// is scoped to exactly one tenant's credentials.
type Tenant struct {
	TenantID  uuid.UUID // UUIDv7
	Name      string    // Display name, unique across tenants
	AccountID string    // Cloudflare account ID
	APIToken  string    // Opaque secret; never echoed back after creation

	// AdminUserIDs is the set of chat-transport user identities assigned
	// as admins of this tenant. SuperAdmin status is not stored here.
	AdminUserIDs []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasAdmin returns true if the given user is assigned as an admin of this tenant.
func (t *Tenant) HasAdmin(userID string) bool {
	return slices.Contains(t.AdminUserIDs, userID)
}

// DomainGroup is a purely organizational grouping of domain names within a
// tenant. Groups have no external-system mirror.
type DomainGroup struct {
	GroupID  uuid.UUID
	TenantID uuid.UUID
	Name     string
	Domains  []string // Set semantics; order is irrelevant

	CreatedAt time.Time
}
