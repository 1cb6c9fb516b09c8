// Package auth decides whether a user may perform an action, using role and
// tenant-assignment data from the tenant store. Roles are derived, never
// stored per user: the super admin is a single config entry written by the
// first-user bootstrap, and tenant admin is an edge in the tenant's admin
// set.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tunnelkeep/tunnelkeep/internal/store"
)

// Role is a derived privilege level.
type Role string

const (
	RoleSuperAdmin   Role = "super_admin"
	RoleTenantAdmin  Role = "tenant_admin"
	RoleUnauthorized Role = "unauthorized"
)

// Action represents an authorized operation.
type Action string

const (
	ActionListTenants  Action = "tenants:list"
	ActionAddTenant    Action = "tenants:add"
	ActionDeleteTenant Action = "tenants:delete"
	ActionAssignAdmin  Action = "tenants:assign-admin"
	ActionRemoveAdmin  Action = "tenants:remove-admin"
	ActionViewStats    Action = "system:stats"

	ActionSwitchTenant Action = "tenant:switch"
	ActionTenantInfo   Action = "tenant:info"
	ActionRotateToken  Action = "tenant:rotate-token"
	ActionRefreshCache Action = "tenant:refresh-cache"

	ActionListDomains  Action = "dns:list-domains"
	ActionListRecords  Action = "dns:list-records"
	ActionWriteRecords Action = "dns:write-records"
	ActionManageGroups Action = "dns:manage-groups"

	ActionListTunnels     Action = "tunnels:list"
	ActionCreateTunnel    Action = "tunnels:create"
	ActionConfigureTunnel Action = "tunnels:configure"
	ActionDeleteTunnel    Action = "tunnels:delete"
)

// globalActions require the super admin role regardless of target tenant.
var globalActions = []Action{
	ActionListTenants,
	ActionAddTenant,
	ActionDeleteTenant,
	ActionAssignAdmin,
	ActionRemoveAdmin,
	ActionViewStats,
}

// IsGlobal reports whether the action is system-wide rather than scoped to
// one tenant.
func IsGlobal(action Action) bool {
	return slices.Contains(globalActions, action)
}

// DeniedError is returned when authorization fails.
type DeniedError struct {
	UserID string
	Action Action
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("denied %s for user %s: %s", e.Action, e.UserID, e.Reason)
}

// Authorizer evaluates access decisions against durable role data.
type Authorizer struct {
	tenants store.TenantStore
	config  store.ConfigStore
}

// NewAuthorizer creates an Authorizer backed by the given stores.
func NewAuthorizer(tenants store.TenantStore, config store.ConfigStore) *Authorizer {
	return &Authorizer{tenants: tenants, config: config}
}

// Authorize returns nil when userID may perform action against the target
// tenant, or a DeniedError. The very first user ever authorized is promoted
// to super admin exactly once, before any denial is issued; the promotion is
// a compare-and-set on the config store so concurrent first requests elect
// a single winner.
func (a *Authorizer) Authorize(ctx context.Context, userID string, action Action, targetTenantID *uuid.UUID) error {
	if userID == "" {
		return &DeniedError{UserID: userID, Action: action, Reason: "missing user identity"}
	}

	won, err := a.config.SetIfAbsent(ctx, store.ConfigKeySuperAdmin, userID)
	if err != nil {
		return fmt.Errorf("failed to check bootstrap state: %w", err)
	}
	if won {
		log.Info().Str("user_id", userID).Msg("first user promoted to super admin")
	}

	superAdminID, err := a.config.Get(ctx, store.ConfigKeySuperAdmin)
	if err != nil {
		return fmt.Errorf("failed to load super admin: %w", err)
	}
	if superAdminID == userID {
		return nil
	}

	if IsGlobal(action) {
		return &DeniedError{UserID: userID, Action: action, Reason: "requires super admin"}
	}

	if targetTenantID == nil {
		return &DeniedError{UserID: userID, Action: action, Reason: "no tenant selected"}
	}

	tenant, err := a.tenants.Get(ctx, *targetTenantID)
	if err != nil {
		return fmt.Errorf("failed to load tenant: %w", err)
	}
	if !tenant.HasAdmin(userID) {
		return &DeniedError{UserID: userID, Action: action, Reason: "not an admin of this tenant"}
	}
	return nil
}

// Bootstrap performs the one-time first-user promotion without authorizing
// any particular action, then returns the caller's derived role. Used by
// the initial greeting, which every user may issue.
func (a *Authorizer) Bootstrap(ctx context.Context, userID string) (Role, error) {
	if userID == "" {
		return RoleUnauthorized, nil
	}
	won, err := a.config.SetIfAbsent(ctx, store.ConfigKeySuperAdmin, userID)
	if err != nil {
		return RoleUnauthorized, fmt.Errorf("failed to check bootstrap state: %w", err)
	}
	if won {
		log.Info().Str("user_id", userID).Msg("first user promoted to super admin")
	}
	return a.Role(ctx, userID)
}

// Role derives the caller's role: super admin, tenant admin of at least one
// tenant, or unauthorized.
func (a *Authorizer) Role(ctx context.Context, userID string) (Role, error) {
	superAdminID, err := a.config.Get(ctx, store.ConfigKeySuperAdmin)
	if err != nil && !errors.Is(err, store.ErrConfigNotFound) {
		return RoleUnauthorized, fmt.Errorf("failed to load super admin: %w", err)
	}
	if err == nil && superAdminID == userID {
		return RoleSuperAdmin, nil
	}

	tenants, err := a.tenants.ListForAdmin(ctx, userID)
	if err != nil {
		return RoleUnauthorized, fmt.Errorf("failed to list tenants for admin: %w", err)
	}
	if len(tenants) > 0 {
		return RoleTenantAdmin, nil
	}
	return RoleUnauthorized, nil
}
