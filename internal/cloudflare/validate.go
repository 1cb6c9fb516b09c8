package cloudflare

import (
	"net/netip"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// recordTypes are the DNS record types the gateway accepts.
var recordTypes = []string{"A", "AAAA", "CNAME", "MX", "TXT", "SRV", "NS", "PTR"}

// priorityTypes require a priority value.
var priorityTypes = []string{"MX", "SRV"}

var hostnameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)+$`)

// serviceSchemes are the origin service schemes cloudflared can proxy to.
var serviceSchemes = []string{"http", "https", "tcp", "ssh", "rdp"}

// ValidateRecord checks DNS record parameters locally. Invalid input fails
// fast with a ValidationError and never reaches the network.
func ValidateRecord(params RecordParams) error {
	if !slices.Contains(recordTypes, params.Type) {
		return &ValidationError{Field: "type", Reason: "must be one of " + strings.Join(recordTypes, ", ")}
	}
	if params.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if params.Content == "" {
		return &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	// TTL 1 means "automatic" in the provider API.
	if params.TTL != 1 && (params.TTL < 60 || params.TTL > 86400) {
		return &ValidationError{Field: "ttl", Reason: "must be 1 (auto) or between 60 and 86400 seconds"}
	}
	if slices.Contains(priorityTypes, params.Type) && params.Priority == nil {
		return &ValidationError{Field: "priority", Reason: "required for " + params.Type + " records"}
	}
	return nil
}

// ValidateCIDR checks that a private network route is a syntactically valid
// CIDR prefix.
func ValidateCIDR(cidr string) error {
	if _, err := netip.ParsePrefix(cidr); err != nil {
		return &ValidationError{Field: "cidr", Reason: "must be a valid CIDR prefix, e.g. 10.0.0.0/8"}
	}
	return nil
}

// ValidateHostname checks a public hostname (full subdomain, e.g.
// "app.example.com").
func ValidateHostname(hostname string) error {
	if hostname == "" {
		return &ValidationError{Field: "hostname", Reason: "must not be empty"}
	}
	if len(hostname) > 253 {
		return &ValidationError{Field: "hostname", Reason: "must be at most 253 characters"}
	}
	if !hostnameRe.MatchString(strings.ToLower(hostname)) {
		return &ValidationError{Field: "hostname", Reason: "must be a fully qualified domain name"}
	}
	return nil
}

// ValidateServiceURL checks a tunnel origin service URL, e.g.
// "http://localhost:8080".
func ValidateServiceURL(serviceURL string) error {
	u, err := url.Parse(serviceURL)
	if err != nil || u.Host == "" {
		return &ValidationError{Field: "service", Reason: "must be a URL like http://localhost:8080"}
	}
	if !slices.Contains(serviceSchemes, u.Scheme) {
		return &ValidationError{Field: "service", Reason: "scheme must be one of " + strings.Join(serviceSchemes, ", ")}
	}
	return nil
}

// ValidateTunnelName checks a tunnel name before any remote call.
func ValidateTunnelName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if len(name) > 64 {
		return &ValidationError{Field: "name", Reason: "must be at most 64 characters"}
	}
	return nil
}
