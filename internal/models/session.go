package models

import (
	"time"

	"github.com/google/uuid"
)

// PendingKind enumerates the multi-step input states a session can be in.
type PendingKind string

const (
	PendingNone     PendingKind = ""
	PendingHostname PendingKind = "hostname" // Awaiting "subdomain service-url" text
	PendingCIDR     PendingKind = "cidr"     // Awaiting CIDR text
)

// PendingInput marks an in-progress multi-step conversation: the facade
// asked the user for text and the next plain-text message completes the
// step against the referenced tunnel.
type PendingInput struct {
	Kind     PendingKind
	TunnelID uuid.UUID
}

// Session is the per-user interaction state: active tenant, active tunnel,
// and any pending multi-step input. It holds references only; a deleted
// tenant or tunnel is detected lazily on next access.
type Session struct {
	UserID         string
	ActiveTenantID *uuid.UUID
	ActiveTunnelID *uuid.UUID
	Pending        PendingInput

	UpdatedAt time.Time
}

// SwitchTenant replaces the active tenant and tears down the rest of the
// session scratch state.
func (s *Session) SwitchTenant(tenantID uuid.UUID) {
	s.ActiveTenantID = &tenantID
	s.ActiveTunnelID = nil
	s.Pending = PendingInput{}
	s.UpdatedAt = time.Now()
}

// Reset clears everything except the user identity.
func (s *Session) Reset() {
	s.ActiveTenantID = nil
	s.ActiveTunnelID = nil
	s.Pending = PendingInput{}
	s.UpdatedAt = time.Now()
}
