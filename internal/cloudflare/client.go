// Package cloudflare is the gateway to the provider API: the sole component
// issuing remote calls. Every call is scoped to one tenant's credentials,
// validated locally before touching the network, and retried with bounded
// exponential backoff when the failure is transient.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gregjones/httpcache"
	"github.com/rs/zerolog/log"
	"github.com/tunnelkeep/tunnelkeep/internal/telemetry"
)

const defaultBaseURL = "https://api.cloudflare.com/client/v4"

// Client issues REST calls against the provider API.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	maxAttempts   uint
	retryInterval time.Duration
	metrics       *telemetry.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL overrides the API base URL (used in tests).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(baseURL, "/") }
}

// WithMaxAttempts bounds retries for transient failures.
func WithMaxAttempts(n uint) Option {
	return func(c *Client) { c.maxAttempts = n }
}

// WithRetryInterval sets the initial backoff interval.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) { c.retryInterval = d }
}

// New creates a gateway client. The default HTTP client caches GET
// responses in memory per standard HTTP caching semantics.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Transport: httpcache.NewTransport(httpcache.NewMemoryCache()),
			Timeout:   30 * time.Second,
		},
		baseURL:       defaultBaseURL,
		maxAttempts:   3,
		retryInterval: 500 * time.Millisecond,
		metrics:       telemetry.GetMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call issues one API request with retry handling and returns the decoded
// response envelope. attempts bounds transient retries; mutations that must
// not be replayed pass 1.
func (c *Client) call(ctx context.Context, creds Credentials, method, path string, body any, attempts uint) (*envelope, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	started := time.Now()
	c.metrics.ProviderCallsTotal.Add(ctx, 1)

	op := func() (*envelope, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+creds.APIToken)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.metrics.ProviderRetriesTotal.Add(ctx, 1)
			return nil, &TransientError{Err: err}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			c.metrics.ProviderRetriesTotal.Add(ctx, 1)
			return nil, &TransientError{StatusCode: resp.StatusCode, Err: err}
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			c.metrics.ProviderRetriesTotal.Add(ctx, 1)
			return nil, &TransientError{
				StatusCode: resp.StatusCode,
				Err:        errors.New(http.StatusText(resp.StatusCode)),
			}
		case resp.StatusCode >= 400:
			return nil, backoff.Permanent(permanentFromBody(resp.StatusCode, data))
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		if !env.Success {
			return nil, backoff.Permanent(permanentFromEnvelope(resp.StatusCode, env))
		}
		return &env, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retryInterval

	env, err := backoff.Retry(ctx, op, backoff.WithBackOff(expo), backoff.WithMaxTries(attempts))

	c.metrics.ProviderCallDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

	if err != nil {
		c.metrics.ProviderFailuresTotal.Add(ctx, 1)

		// Network-level failures surface as bare transport errors.
		var transient *TransientError
		var permanent *PermanentError
		if !errors.As(err, &transient) && !errors.As(err, &permanent) {
			var verr *ValidationError
			if !errors.As(err, &verr) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				err = &TransientError{Err: err}
			}
		}

		log.Debug().
			Str("method", method).
			Str("path", path).
			Err(err).
			Msg("provider call failed")
		return nil, err
	}

	log.Debug().
		Str("method", method).
		Str("path", path).
		Dur("duration", time.Since(started)).
		Msg("provider call")
	return env, nil
}

// do issues a single call and unmarshals the result when out is non-nil.
func (c *Client) do(ctx context.Context, creds Credentials, method, path string, body, out any, attempts uint) error {
	env, err := c.call(ctx, creds, method, path, body, attempts)
	if err != nil {
		return err
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}

// doList fetches all pages of a list endpoint.
func doList[T any](ctx context.Context, c *Client, creds Credentials, path string) ([]T, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	var all []T
	page := 1
	for {
		env, err := c.call(ctx, creds, http.MethodGet,
			fmt.Sprintf("%s%sper_page=100&page=%d", path, sep, page), nil, c.maxAttempts)
		if err != nil {
			return nil, err
		}

		var chunk []T
		if len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, &chunk); err != nil {
				return nil, fmt.Errorf("failed to decode list result: %w", err)
			}
		}
		all = append(all, chunk...)

		if env.ResultInfo == nil || page >= env.ResultInfo.TotalPages {
			return all, nil
		}
		page++
	}
}

func permanentFromBody(status int, data []byte) *PermanentError {
	var env envelope
	if err := json.Unmarshal(data, &env); err == nil {
		return permanentFromEnvelope(status, env)
	}
	return &PermanentError{StatusCode: status, Message: http.StatusText(status)}
}

func permanentFromEnvelope(status int, env envelope) *PermanentError {
	if len(env.Errors) > 0 {
		return &PermanentError{
			StatusCode: status,
			Code:       env.Errors[0].Code,
			Message:    env.Errors[0].Message,
		}
	}
	return &PermanentError{StatusCode: status, Message: http.StatusText(status)}
}

// VerifyToken probes an API token for validity. Used before persisting a
// new or rotated tenant token.
func (c *Client) VerifyToken(ctx context.Context, creds Credentials) error {
	return c.do(ctx, creds, http.MethodGet, "/user/tokens/verify", nil, nil, c.maxAttempts)
}

// ListZones returns all zones visible to the tenant's token.
func (c *Client) ListZones(ctx context.Context, creds Credentials) ([]Zone, error) {
	return doList[Zone](ctx, c, creds, "/zones")
}

// ListRecords returns the DNS records of a zone.
func (c *Client) ListRecords(ctx context.Context, creds Credentials, zoneID string) ([]DNSRecord, error) {
	if zoneID == "" {
		return nil, &ValidationError{Field: "zone", Reason: "must not be empty"}
	}
	return doList[DNSRecord](ctx, c, creds, "/zones/"+zoneID+"/dns_records")
}

// CreateRecord creates a DNS record in a zone.
func (c *Client) CreateRecord(ctx context.Context, creds Credentials, zoneID string, params RecordParams) (*DNSRecord, error) {
	if zoneID == "" {
		return nil, &ValidationError{Field: "zone", Reason: "must not be empty"}
	}
	if err := ValidateRecord(params); err != nil {
		return nil, err
	}

	var record DNSRecord
	err := c.do(ctx, creds, http.MethodPost, "/zones/"+zoneID+"/dns_records", params, &record, c.maxAttempts)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateRecord replaces a DNS record.
func (c *Client) UpdateRecord(ctx context.Context, creds Credentials, zoneID, recordID string, params RecordParams) (*DNSRecord, error) {
	if zoneID == "" || recordID == "" {
		return nil, &ValidationError{Field: "record", Reason: "zone and record IDs must not be empty"}
	}
	if err := ValidateRecord(params); err != nil {
		return nil, err
	}

	var record DNSRecord
	err := c.do(ctx, creds, http.MethodPut, "/zones/"+zoneID+"/dns_records/"+recordID, params, &record, c.maxAttempts)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteRecord deletes a DNS record.
func (c *Client) DeleteRecord(ctx context.Context, creds Credentials, zoneID, recordID string) error {
	if zoneID == "" || recordID == "" {
		return &ValidationError{Field: "record", Reason: "zone and record IDs must not be empty"}
	}
	return c.do(ctx, creds, http.MethodDelete, "/zones/"+zoneID+"/dns_records/"+recordID, nil, nil, c.maxAttempts)
}

// CreateTunnel creates a remote tunnel with a locally generated secret.
// This call is never retried: a timeout after the provider committed the
// create would otherwise risk duplicate tunnels.
func (c *Client) CreateTunnel(ctx context.Context, creds Credentials, name, secret string) (*Tunnel, error) {
	if err := ValidateTunnelName(name); err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, &ValidationError{Field: "secret", Reason: "must not be empty"}
	}

	params := createTunnelParams{Name: name, TunnelSecret: secret, ConfigSrc: "cloudflare"}

	var tunnel Tunnel
	err := c.do(ctx, creds, http.MethodPost, "/accounts/"+creds.AccountID+"/cfd_tunnel", params, &tunnel, 1)
	if err != nil {
		return nil, err
	}
	return &tunnel, nil
}

// ListTunnels returns the tenant's non-deleted tunnels.
func (c *Client) ListTunnels(ctx context.Context, creds Credentials) ([]Tunnel, error) {
	return doList[Tunnel](ctx, c, creds, "/accounts/"+creds.AccountID+"/cfd_tunnel?is_deleted=false")
}

// GetTunnelConnections returns the live connectors registered against a
// tunnel.
func (c *Client) GetTunnelConnections(ctx context.Context, creds Credentials, tunnelID string) ([]TunnelConnection, error) {
	if tunnelID == "" {
		return nil, &ValidationError{Field: "tunnel", Reason: "must not be empty"}
	}
	return doList[TunnelConnection](ctx, c, creds, "/accounts/"+creds.AccountID+"/cfd_tunnel/"+tunnelID+"/connections")
}

// GetTunnelConfiguration fetches the current whole-document configuration.
func (c *Client) GetTunnelConfiguration(ctx context.Context, creds Credentials, tunnelID string) (*TunnelConfiguration, error) {
	if tunnelID == "" {
		return nil, &ValidationError{Field: "tunnel", Reason: "must not be empty"}
	}

	var result tunnelConfigResult
	err := c.do(ctx, creds, http.MethodGet, "/accounts/"+creds.AccountID+"/cfd_tunnel/"+tunnelID+"/configurations", nil, &result, c.maxAttempts)
	if err != nil {
		return nil, err
	}
	return &result.Config, nil
}

// PushTunnelConfiguration replaces a tunnel's entire configuration
// document. The provider has no incremental update; callers must send the
// full desired state every time.
func (c *Client) PushTunnelConfiguration(ctx context.Context, creds Credentials, tunnelID string, cfg TunnelConfiguration) error {
	if tunnelID == "" {
		return &ValidationError{Field: "tunnel", Reason: "must not be empty"}
	}
	for _, rule := range cfg.Ingress {
		if rule.Hostname == "" {
			continue // catch-all rule
		}
		if err := ValidateHostname(rule.Hostname); err != nil {
			return err
		}
		if err := ValidateServiceURL(rule.Service); err != nil {
			return err
		}
	}
	for _, network := range cfg.Networks {
		if err := ValidateCIDR(network); err != nil {
			return err
		}
	}

	body := tunnelConfigResult{TunnelID: tunnelID, Config: cfg}
	return c.do(ctx, creds, http.MethodPut, "/accounts/"+creds.AccountID+"/cfd_tunnel/"+tunnelID+"/configurations", body, nil, c.maxAttempts)
}

// DeleteTunnel deletes a remote tunnel. A 404 is surfaced as a
// PermanentError; callers treat it as success via IsNotFound.
func (c *Client) DeleteTunnel(ctx context.Context, creds Credentials, tunnelID string) error {
	if tunnelID == "" {
		return &ValidationError{Field: "tunnel", Reason: "must not be empty"}
	}
	return c.do(ctx, creds, http.MethodDelete, "/accounts/"+creds.AccountID+"/cfd_tunnel/"+tunnelID, nil, nil, c.maxAttempts)
}
