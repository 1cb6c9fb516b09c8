package models

import (
	"time"

	"github.com/google/uuid"
)

// TunnelStatus represents a tunnel's position in its lifecycle.
type TunnelStatus string

const (
	TunnelStatusRequested   TunnelStatus = "requested"   // Name validated, no remote call yet
	TunnelStatusProvisioned TunnelStatus = "provisioned" // Remote tunnel exists, secret stored
	TunnelStatusConfiguring TunnelStatus = "configuring" // Config push in flight
	TunnelStatusActive      TunnelStatus = "active"      // At least one pushed configuration
	TunnelStatusDeleting    TunnelStatus = "deleting"    // Delete issued, remote delete not yet confirmed
	TunnelStatusDeleted     TunnelStatus = "deleted"     // Remote delete confirmed
	TunnelStatusFailed      TunnelStatus = "failed"      // Terminal; see FailedStep
)

// PublicHostname maps a DNS-routed subdomain to a service URL through a tunnel.
type PublicHostname struct {
	Subdomain  string
	ServiceURL string
}

// PrivateNetworkRoute routes a CIDR range through a tunnel.
type PrivateNetworkRoute struct {
	CIDR string
}

// Tunnel represents a Cloudflare tunnel owned by a tenant.
//
// The secret is generated locally, sent to the provider exactly once at
// create time, and stored here; it cannot be re-derived. Hostnames and
// Networks mirror the last configuration successfully pushed to the
// provider, which is what makes rollback-on-push-failure possible.
type Tunnel struct {
	TunnelID uuid.UUID
	TenantID uuid.UUID
	RemoteID string // Provider-assigned tunnel ID, empty until provisioned
	Name     string // Unique within tenant among non-deleted tunnels
	Secret   string

	Status     TunnelStatus
	FailedStep string // Set only when Status == TunnelStatusFailed

	Hostnames []PublicHostname
	Networks  []PrivateNetworkRoute

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Configured returns true if the tunnel has at least one hostname or route.
func (t *Tunnel) Configured() bool {
	return len(t.Hostnames) > 0 || len(t.Networks) > 0
}

// DisplayStatus collapses Provisioned and Active into a single label for
// display purposes; a tunnel with zero hostnames and routes cannot serve
// traffic but is otherwise indistinguishable from an active one.
func (t *Tunnel) DisplayStatus() string {
	if t.Status == TunnelStatusProvisioned || t.Status == TunnelStatusActive {
		if t.Configured() {
			return "active"
		}
		return "idle"
	}
	return string(t.Status)
}
