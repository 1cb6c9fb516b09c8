package orchestrator

import (
	"github.com/google/uuid"
)

// Name identifies a command in the inbound command set.
type Name string

const (
	CmdStart Name = "start"

	CmdListTenants  Name = "list-tenants"
	CmdAddTenant    Name = "add-tenant"
	CmdAssignAdmin  Name = "assign-admin"
	CmdRemoveAdmin  Name = "remove-admin"
	CmdRotateToken  Name = "rotate-token"
	CmdDeleteTenant Name = "delete-tenant"
	CmdSwitchTenant Name = "switch-tenant"
	CmdTenantInfo   Name = "tenant-info"

	CmdListDomains  Name = "list-domains"
	CmdListRecords  Name = "list-records"
	CmdCreateRecord Name = "create-record"
	CmdUpdateRecord Name = "update-record"
	CmdDeleteRecord Name = "delete-record"

	CmdListGroups     Name = "list-groups"
	CmdCreateGroup    Name = "create-group"
	CmdAddGroupDomain Name = "add-group-domain"

	CmdListTunnels    Name = "list-tunnels"
	CmdCreateTunnel   Name = "create-tunnel"
	CmdTunnelInfo     Name = "tunnel-info"
	CmdAddHostname    Name = "add-hostname"
	CmdRemoveHostname Name = "remove-hostname"
	CmdAddNetwork     Name = "add-network"
	CmdRemoveNetwork  Name = "remove-network"
	CmdDeleteTunnel   Name = "delete-tunnel"

	CmdRefreshCache Name = "refresh-cache"
	CmdStats        Name = "stats"

	// CmdText is a plain-text message: it completes a pending multi-step
	// input if one is set, and is an error otherwise.
	CmdText Name = "text"
)

// RecordArgs carries DNS record parameters for create and update commands.
type RecordArgs struct {
	Type     string
	Name     string
	Content  string
	TTL      int
	Proxied  bool
	Priority *int
}

// Command is one inbound request from the transport. Only the fields the
// named command uses are meaningful.
type Command struct {
	Name Name

	// Tenant targeting: by ID for super-admin commands, by name for
	// switch-tenant convenience.
	TenantID   *uuid.UUID
	TenantName string

	// add-tenant / rotate-token
	Token     string
	AccountID string

	// assign-admin / remove-admin
	AdminUserID string

	// DNS commands
	ZoneID   string
	RecordID string
	Record   *RecordArgs

	// Domain group commands
	GroupID   *uuid.UUID
	GroupName string
	Domain    string

	// Tunnel commands; TunnelID falls back to the session's active tunnel.
	TunnelID   *uuid.UUID
	TunnelName string
	Subdomain  string
	ServiceURL string
	CIDR       string

	// CmdText payload
	Text string
}

// Result is the display payload returned for every command: a
// human-readable message plus optional structured data for transports that
// can render it.
type Result struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
