package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tunnelkeep/tunnelkeep/internal/httpapi"
)

type SendCmd struct {
	Server    string `help:"API base URL" default:"http://localhost:8080" env:"TUNNELKEEP_SERVER"`
	AuthToken string `help:"Bearer token for the API" required:"" env:"TUNNELKEEP_TOKEN"`

	Name string `arg:"" help:"Command name (start, list-tenants, create-tunnel, ...)"`

	TenantID    string `help:"Tenant ID for tenant-targeted commands"`
	TenantName  string `help:"Tenant name (add-tenant, switch-tenant)"`
	APIToken    string `help:"Provider API token (add-tenant, rotate-token)"`
	AccountID   string `help:"Provider account ID (add-tenant)"`
	AdminUserID string `help:"User ID (assign-admin, remove-admin)"`

	ZoneID        string `help:"Zone ID for DNS commands"`
	RecordID      string `help:"Record ID (update-record, delete-record)"`
	RecordType    string `help:"Record type (create-record, update-record)"`
	RecordName    string `help:"Record name"`
	RecordContent string `help:"Record content"`
	RecordTTL     int    `help:"Record TTL in seconds (1 = automatic)" default:"1"`
	Proxied       bool   `help:"Proxy the record through the provider"`
	Priority      *int   `help:"Record priority (MX, SRV)"`

	GroupID   string `help:"Domain group ID"`
	GroupName string `help:"Domain group name (create-group)"`
	Domain    string `help:"Domain name (add-group-domain)"`

	TunnelID   string `help:"Tunnel ID; defaults to the session's active tunnel"`
	TunnelName string `help:"Tunnel name (create-tunnel)"`
	Subdomain  string `help:"Public hostname (add-hostname, remove-hostname)"`
	ServiceURL string `help:"Origin service URL (add-hostname)"`
	CIDR       string `help:"Private network CIDR (add-network, remove-network)"`

	Text string `help:"Plain-text payload for the text command"`
}

func (s *SendCmd) Run(ctx context.Context) error {
	req, err := s.buildRequest()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Server+"/v1/commands", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.AuthToken)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var decoded httpapi.CommandResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("unexpected response (%d): %s", resp.StatusCode, body)
	}

	fmt.Println(decoded.Message)
	if decoded.Data != nil {
		pretty, err := json.MarshalIndent(decoded.Data, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(pretty))
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("command failed with status %d", resp.StatusCode)
	}
	return nil
}

func (s *SendCmd) buildRequest() (*httpapi.CommandRequest, error) {
	req := &httpapi.CommandRequest{
		Name:        s.Name,
		TenantName:  s.TenantName,
		Token:       s.APIToken,
		AccountID:   s.AccountID,
		AdminUserID: s.AdminUserID,
		ZoneID:      s.ZoneID,
		RecordID:    s.RecordID,
		GroupName:   s.GroupName,
		Domain:      s.Domain,
		TunnelName:  s.TunnelName,
		Subdomain:   s.Subdomain,
		ServiceURL:  s.ServiceURL,
		CIDR:        s.CIDR,
		Text:        s.Text,
	}

	var err error
	if req.TenantID, err = parseOptionalUUID("tenant-id", s.TenantID); err != nil {
		return nil, err
	}
	if req.GroupID, err = parseOptionalUUID("group-id", s.GroupID); err != nil {
		return nil, err
	}
	if req.TunnelID, err = parseOptionalUUID("tunnel-id", s.TunnelID); err != nil {
		return nil, err
	}

	if s.RecordType != "" {
		req.Record = &httpapi.RecordRequest{
			Type:     s.RecordType,
			Name:     s.RecordName,
			Content:  s.RecordContent,
			TTL:      s.RecordTTL,
			Proxied:  s.Proxied,
			Priority: s.Priority,
		}
	}

	return req, nil
}

func parseOptionalUUID(flag, value string) (*uuid.UUID, error) {
	if value == "" {
		return nil, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", flag, err)
	}
	return &id, nil
}
