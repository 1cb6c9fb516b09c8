// Package tunnel drives the multi-step tunnel lifecycle: create, configure,
// delete. The provider's configuration API is whole-document replace, so
// every hostname or network change is a read-mutate-push sequence with the
// stored tunnel as the pre-push snapshot; a failed push rolls the tunnel
// back to its last successfully pushed configuration.
package tunnel

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tunnelkeep/tunnelkeep/internal/cache"
	"github.com/tunnelkeep/tunnelkeep/internal/cloudflare"
	"github.com/tunnelkeep/tunnelkeep/internal/models"
	"github.com/tunnelkeep/tunnelkeep/internal/store"
	"github.com/tunnelkeep/tunnelkeep/internal/telemetry"
)

// Errors returned by lifecycle operations.
var (
	// ErrNameInUse is returned when a tenant already has a live tunnel
	// with the requested name.
	ErrNameInUse = errors.New("tunnel name already in use")

	// ErrNotConfigurable is returned when a configuration change targets
	// a tunnel that is deleting, deleted or failed.
	ErrNotConfigurable = errors.New("tunnel is not in a configurable state")

	// ErrHostnameExists and friends report configuration-level conflicts.
	ErrHostnameExists   = errors.New("hostname already attached to tunnel")
	ErrHostnameNotFound = errors.New("hostname not attached to tunnel")
	ErrNetworkExists    = errors.New("network route already attached to tunnel")
	ErrNetworkNotFound  = errors.New("network route not attached to tunnel")
)

// Gateway is the provider surface the lifecycle manager depends on.
type Gateway interface {
	CreateTunnel(ctx context.Context, creds cloudflare.Credentials, name, secret string) (*cloudflare.Tunnel, error)
	PushTunnelConfiguration(ctx context.Context, creds cloudflare.Credentials, tunnelID string, cfg cloudflare.TunnelConfiguration) error
	DeleteTunnel(ctx context.Context, creds cloudflare.Credentials, tunnelID string) error
	GetTunnelConnections(ctx context.Context, creds cloudflare.Credentials, tunnelID string) ([]cloudflare.TunnelConnection, error)
}

// Manager owns the tunnel state machine.
type Manager struct {
	tunnels store.TunnelStore
	gateway Gateway
	cache   *cache.Cache
	metrics *telemetry.Metrics
}

// NewManager creates a lifecycle manager.
func NewManager(tunnels store.TunnelStore, gateway Gateway, resourceCache *cache.Cache) *Manager {
	return &Manager{
		tunnels: tunnels,
		gateway: gateway,
		cache:   resourceCache,
		metrics: telemetry.GetMetrics(),
	}
}

func credentials(tenant *models.Tenant) cloudflare.Credentials {
	return cloudflare.Credentials{APIToken: tenant.APIToken, AccountID: tenant.AccountID}
}

// newSecret generates the one-time tunnel secret: 32 random bytes,
// base64-encoded. It is sent to the provider exactly once and cannot be
// re-derived afterwards.
func newSecret() string {
	u1, u2 := uuid.New(), uuid.New()
	return base64.StdEncoding.EncodeToString(append(u1[:], u2[:]...))
}

// Create provisions a new remote tunnel. The create call is issued at most
// once: a failure is recorded as a failed tunnel rather than retried, since
// replaying a create that the provider may have committed risks duplicate
// tunnels. The caller can re-request with a new name.
func (m *Manager) Create(ctx context.Context, tenant *models.Tenant, name string) (*models.Tunnel, error) {
	if err := cloudflare.ValidateTunnelName(name); err != nil {
		return nil, err
	}

	existing, err := m.tunnels.ListByTenant(ctx, tenant.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tunnels: %w", err)
	}
	for _, other := range existing {
		if other.Name == name && other.Status != models.TunnelStatusDeleted {
			return nil, ErrNameInUse
		}
	}

	tun := &models.Tunnel{
		TunnelID: uuid.New(),
		TenantID: tenant.TenantID,
		Name:     name,
		Secret:   newSecret(),
		Status:   models.TunnelStatusRequested,
	}
	if err := m.tunnels.Create(ctx, tun); err != nil {
		return nil, fmt.Errorf("failed to persist tunnel: %w", err)
	}

	remote, err := m.gateway.CreateTunnel(ctx, credentials(tenant), name, tun.Secret)
	if err != nil {
		tun.Status = models.TunnelStatusFailed
		tun.FailedStep = "create"
		if uerr := m.tunnels.Update(ctx, tun); uerr != nil {
			log.Warn().Err(uerr).Str("tunnel_id", tun.TunnelID.String()).Msg("failed to record tunnel failure")
		}
		return nil, fmt.Errorf("tunnel create failed: %w", err)
	}

	tun.RemoteID = remote.ID
	tun.Status = models.TunnelStatusProvisioned
	if err := m.tunnels.Update(ctx, tun); err != nil {
		return nil, fmt.Errorf("failed to persist provisioned tunnel: %w", err)
	}

	m.metrics.TunnelStepsTotal.Add(ctx, 1)
	m.cache.Invalidate(tenant.TenantID, cache.KindTunnels)

	log.Debug().
		Str("tenant_id", tenant.TenantID.String()).
		Str("tunnel_id", tun.TunnelID.String()).
		Str("name", name).
		Msg("tunnel provisioned")
	return tun, nil
}

// Get loads one of the tenant's tunnels, enforcing ownership.
func (m *Manager) Get(ctx context.Context, tenant *models.Tenant, tunnelID uuid.UUID) (*models.Tunnel, error) {
	tun, err := m.tunnels.Get(ctx, tunnelID)
	if err != nil {
		return nil, err
	}
	if tun.TenantID != tenant.TenantID {
		return nil, store.ErrTunnelNotFound
	}
	return tun, nil
}

// List returns the tenant's live tunnels.
func (m *Manager) List(ctx context.Context, tenant *models.Tenant) ([]*models.Tunnel, error) {
	all, err := m.tunnels.ListByTenant(ctx, tenant.TenantID)
	if err != nil {
		return nil, err
	}
	live := all[:0]
	for _, tun := range all {
		if tun.Status != models.TunnelStatusDeleted {
			live = append(live, tun)
		}
	}
	return live, nil
}

// Connections queries the live connectors registered against a tunnel.
func (m *Manager) Connections(ctx context.Context, tenant *models.Tenant, tunnelID uuid.UUID) ([]cloudflare.TunnelConnection, error) {
	tun, err := m.Get(ctx, tenant, tunnelID)
	if err != nil {
		return nil, err
	}
	if tun.RemoteID == "" {
		return nil, nil
	}
	return m.gateway.GetTunnelConnections(ctx, credentials(tenant), tun.RemoteID)
}

// buildConfiguration renders the full configuration document for a tunnel:
// one ingress rule per hostname plus the mandatory catch-all, and the
// private network routes.
func buildConfiguration(tun *models.Tunnel) cloudflare.TunnelConfiguration {
	cfg := cloudflare.TunnelConfiguration{}
	for _, h := range tun.Hostnames {
		cfg.Ingress = append(cfg.Ingress, cloudflare.IngressRule{
			Hostname: h.Subdomain,
			Service:  h.ServiceURL,
		})
	}
	cfg.Ingress = append(cfg.Ingress, cloudflare.IngressRule{Service: "http_status:404"})
	for _, n := range tun.Networks {
		cfg.Networks = append(cfg.Networks, n.CIDR)
	}
	return cfg
}

// mutateConfiguration applies one configuration change as a snapshot,
// mutate, push, commit sequence. On push failure the stored tunnel is
// rolled back to the snapshot so it always reflects the last configuration
// the provider accepted.
func (m *Manager) mutateConfiguration(ctx context.Context, tenant *models.Tenant, tunnelID uuid.UUID, mutate func(*models.Tunnel) error) (*models.Tunnel, error) {
	tun, err := m.Get(ctx, tenant, tunnelID)
	if err != nil {
		return nil, err
	}

	switch tun.Status {
	case models.TunnelStatusProvisioned, models.TunnelStatusConfiguring, models.TunnelStatusActive:
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotConfigurable, tun.Status)
	}

	snapshot := *tun
	snapshot.Hostnames = append([]models.PublicHostname(nil), tun.Hostnames...)
	snapshot.Networks = append([]models.PrivateNetworkRoute(nil), tun.Networks...)

	if err := mutate(tun); err != nil {
		return nil, err
	}

	tun.Status = models.TunnelStatusConfiguring
	if err := m.tunnels.Update(ctx, tun); err != nil {
		return nil, fmt.Errorf("failed to persist tunnel: %w", err)
	}

	if err := m.gateway.PushTunnelConfiguration(ctx, credentials(tenant), tun.RemoteID, buildConfiguration(tun)); err != nil {
		m.metrics.TunnelRollbacksTotal.Add(ctx, 1)
		if uerr := m.tunnels.Update(ctx, &snapshot); uerr != nil {
			log.Warn().Err(uerr).Str("tunnel_id", tun.TunnelID.String()).Msg("failed to roll back tunnel configuration")
		}
		return nil, fmt.Errorf("configuration push failed: %w", err)
	}

	tun.Status = models.TunnelStatusActive
	if err := m.tunnels.Update(ctx, tun); err != nil {
		return nil, fmt.Errorf("failed to persist tunnel: %w", err)
	}

	m.metrics.TunnelStepsTotal.Add(ctx, 1)
	m.cache.Invalidate(tenant.TenantID, cache.KindTunnels)
	return tun, nil
}

// AddHostname attaches a public hostname and pushes the updated
// configuration.
func (m *Manager) AddHostname(ctx context.Context, tenant *models.Tenant, tunnelID uuid.UUID, subdomain, serviceURL string) (*models.Tunnel, error) {
	if err := cloudflare.ValidateHostname(subdomain); err != nil {
		return nil, err
	}
	if err := cloudflare.ValidateServiceURL(serviceURL); err != nil {
		return nil, err
	}

	// Hostnames are case-insensitive; store the canonical lowercase form.
	subdomain = strings.ToLower(subdomain)

	return m.mutateConfiguration(ctx, tenant, tunnelID, func(tun *models.Tunnel) error {
		for _, h := range tun.Hostnames {
			if h.Subdomain == subdomain {
				return ErrHostnameExists
			}
		}
		tun.Hostnames = append(tun.Hostnames, models.PublicHostname{Subdomain: subdomain, ServiceURL: serviceURL})
		return nil
	})
}

// RemoveHostname detaches a public hostname and pushes the updated
// configuration.
func (m *Manager) RemoveHostname(ctx context.Context, tenant *models.Tenant, tunnelID uuid.UUID, subdomain string) (*models.Tunnel, error) {
	subdomain = strings.ToLower(subdomain)
	return m.mutateConfiguration(ctx, tenant, tunnelID, func(tun *models.Tunnel) error {
		for i, h := range tun.Hostnames {
			if h.Subdomain == subdomain {
				tun.Hostnames = append(tun.Hostnames[:i], tun.Hostnames[i+1:]...)
				return nil
			}
		}
		return ErrHostnameNotFound
	})
}

// AddNetwork attaches a private network route and pushes the updated
// configuration.
func (m *Manager) AddNetwork(ctx context.Context, tenant *models.Tenant, tunnelID uuid.UUID, cidr string) (*models.Tunnel, error) {
	if err := cloudflare.ValidateCIDR(cidr); err != nil {
		return nil, err
	}

	return m.mutateConfiguration(ctx, tenant, tunnelID, func(tun *models.Tunnel) error {
		for _, n := range tun.Networks {
			if n.CIDR == cidr {
				return ErrNetworkExists
			}
		}
		tun.Networks = append(tun.Networks, models.PrivateNetworkRoute{CIDR: cidr})
		return nil
	})
}

// RemoveNetwork detaches a private network route and pushes the updated
// configuration.
func (m *Manager) RemoveNetwork(ctx context.Context, tenant *models.Tenant, tunnelID uuid.UUID, cidr string) (*models.Tunnel, error) {
	return m.mutateConfiguration(ctx, tenant, tunnelID, func(tun *models.Tunnel) error {
		for i, n := range tun.Networks {
			if n.CIDR == cidr {
				tun.Networks = append(tun.Networks[:i], tun.Networks[i+1:]...)
				return nil
			}
		}
		return ErrNetworkNotFound
	})
}

// Delete removes a tunnel remotely and locally. It is idempotent: deleting
// a tunnel that is already gone, remotely or locally, is success. A failed
// remote delete leaves the tunnel visible in the deleting state so the
// operation can be retried.
func (m *Manager) Delete(ctx context.Context, tenant *models.Tenant, tunnelID uuid.UUID) error {
	tun, err := m.Get(ctx, tenant, tunnelID)
	if errors.Is(err, store.ErrTunnelNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if tun.Status == models.TunnelStatusDeleted {
		return nil
	}

	if tun.Status != models.TunnelStatusDeleting {
		tun.Status = models.TunnelStatusDeleting
		if err := m.tunnels.Update(ctx, tun); err != nil {
			return fmt.Errorf("failed to persist tunnel: %w", err)
		}
	}

	if tun.RemoteID != "" {
		creds := credentials(tenant)

		// Best-effort detach: push an empty configuration first. The
		// remote delete invalidates stale config anyway, so a failure
		// here is reported but never blocks the delete.
		detach := cloudflare.TunnelConfiguration{Ingress: []cloudflare.IngressRule{{Service: "http_status:404"}}}
		if err := m.gateway.PushTunnelConfiguration(ctx, creds, tun.RemoteID, detach); err != nil {
			log.Warn().Err(err).Str("tunnel_id", tun.TunnelID.String()).Msg("failed to detach tunnel configuration before delete")
		}

		if err := m.gateway.DeleteTunnel(ctx, creds, tun.RemoteID); err != nil && !cloudflare.IsNotFound(err) {
			return fmt.Errorf("tunnel delete failed: %w", err)
		}
	}

	tun.Status = models.TunnelStatusDeleted
	tun.Hostnames = nil
	tun.Networks = nil
	if err := m.tunnels.Update(ctx, tun); err != nil {
		return fmt.Errorf("failed to persist tunnel: %w", err)
	}

	m.metrics.TunnelStepsTotal.Add(ctx, 1)
	m.cache.Invalidate(tenant.TenantID, cache.KindTunnels)

	log.Debug().
		Str("tenant_id", tenant.TenantID.String()).
		Str("tunnel_id", tun.TunnelID.String()).
		Msg("tunnel deleted")
	return nil
}

// DeleteAllForTenant tears down every live tunnel a tenant owns. Used by
// tenant deletion; remote failures are collected, not fatal, so a tenant
// delete always completes locally.
func (m *Manager) DeleteAllForTenant(ctx context.Context, tenant *models.Tenant) error {
	tunnels, err := m.List(ctx, tenant)
	if err != nil {
		return err
	}

	var errs []error
	for _, tun := range tunnels {
		if err := m.Delete(ctx, tenant, tun.TunnelID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
