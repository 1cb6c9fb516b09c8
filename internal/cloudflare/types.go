package cloudflare

import (
	"encoding/json"
	"time"
)

// Credentials scope a single API call to one tenant. The gateway never
// holds ambient credentials; every method takes the tenant's own.
type Credentials struct {
	APIToken  string
	AccountID string
}

// Zone mirrors a remote DNS zone.
type Zone struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// DNSRecord mirrors a remote DNS record.
type DNSRecord struct {
	ID       string `json:"id"`
	ZoneID   string `json:"zone_id"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Content  string `json:"content"`
	TTL      int    `json:"ttl"`
	Proxied  bool   `json:"proxied"`
	Priority *int   `json:"priority,omitempty"`
}

// RecordParams carries the writable fields of a DNS record.
type RecordParams struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Content  string `json:"content"`
	TTL      int    `json:"ttl"`
	Proxied  bool   `json:"proxied"`
	Priority *int   `json:"priority,omitempty"`
}

// Tunnel mirrors a remote cfd_tunnel object.
type Tunnel struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	DeletedAt time.Time `json:"deleted_at,omitzero"`
}

// TunnelConnection is a live connector registered against a tunnel.
type TunnelConnection struct {
	ID       string    `json:"id"`
	ColoName string    `json:"colo_name"`
	OpenedAt time.Time `json:"opened_at"`
	OriginIP string    `json:"origin_ip"`
}

// IngressRule maps a public hostname to a service URL. The final rule in a
// pushed document is the catch-all with an empty hostname.
type IngressRule struct {
	Hostname string `json:"hostname,omitempty"`
	Service  string `json:"service"`
}

// TunnelConfiguration is the whole-document tunnel configuration. The
// provider API replaces the entire document on every push; there are no
// incremental updates.
type TunnelConfiguration struct {
	Ingress  []IngressRule `json:"ingress"`
	Networks []string      `json:"networks,omitempty"` // CIDR ranges routed through the tunnel
}

// apiError is a single error object in a provider response envelope.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// resultInfo carries pagination state in list responses.
type resultInfo struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
}

// envelope is the standard v4 API response wrapper.
type envelope struct {
	Success    bool            `json:"success"`
	Errors     []apiError      `json:"errors"`
	Result     json.RawMessage `json:"result"`
	ResultInfo *resultInfo     `json:"result_info,omitempty"`
}

// tunnelConfigResult wraps a configuration document in config get/put
// responses.
type tunnelConfigResult struct {
	TunnelID string              `json:"tunnel_id"`
	Config   TunnelConfiguration `json:"config"`
}

// createTunnelParams is the body of a tunnel create call. The secret is
// sent exactly once, here.
type createTunnelParams struct {
	Name         string `json:"name"`
	TunnelSecret string `json:"tunnel_secret"`
	ConfigSrc    string `json:"config_src"`
}
