package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tunnelkeep/tunnelkeep/internal/cache"
	"github.com/tunnelkeep/tunnelkeep/internal/cloudflare"
	"github.com/tunnelkeep/tunnelkeep/internal/models"
	"github.com/tunnelkeep/tunnelkeep/internal/store"
	"github.com/tunnelkeep/tunnelkeep/internal/store/memory"
)

type fakeGateway struct {
	zones   []cloudflare.Zone
	records map[string][]cloudflare.DNSRecord

	listZonesCalls   int
	listRecordsCalls int
	pushCalls        int
	connectionsCalls int

	listZonesErr error
	verifyErr    error
	createErr    error
	pushErr      error
	deleteErr    error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		zones: []cloudflare.Zone{{ID: "z1", Name: "example.com", Status: "active"}},
		records: map[string][]cloudflare.DNSRecord{
			"z1": {{ID: "r1", ZoneID: "z1", Type: "A", Name: "www.example.com", Content: "1.2.3.4", TTL: 300}},
		},
	}
}

func (f *fakeGateway) VerifyToken(_ context.Context, _ cloudflare.Credentials) error {
	return f.verifyErr
}

func (f *fakeGateway) ListZones(_ context.Context, _ cloudflare.Credentials) ([]cloudflare.Zone, error) {
	f.listZonesCalls++
	if f.listZonesErr != nil {
		return nil, f.listZonesErr
	}
	return f.zones, nil
}

func (f *fakeGateway) ListRecords(_ context.Context, _ cloudflare.Credentials, zoneID string) ([]cloudflare.DNSRecord, error) {
	f.listRecordsCalls++
	return f.records[zoneID], nil
}

func (f *fakeGateway) CreateRecord(_ context.Context, _ cloudflare.Credentials, zoneID string, params cloudflare.RecordParams) (*cloudflare.DNSRecord, error) {
	record := cloudflare.DNSRecord{
		ID: fmt.Sprintf("r%d", len(f.records[zoneID])+1), ZoneID: zoneID,
		Type: params.Type, Name: params.Name, Content: params.Content, TTL: params.TTL,
	}
	f.records[zoneID] = append(f.records[zoneID], record)
	return &record, nil
}

func (f *fakeGateway) UpdateRecord(_ context.Context, _ cloudflare.Credentials, zoneID, recordID string, params cloudflare.RecordParams) (*cloudflare.DNSRecord, error) {
	for i, r := range f.records[zoneID] {
		if r.ID == recordID {
			f.records[zoneID][i].Content = params.Content
			return &f.records[zoneID][i], nil
		}
	}
	return nil, &cloudflare.PermanentError{StatusCode: http.StatusNotFound, Message: "record not found"}
}

func (f *fakeGateway) DeleteRecord(_ context.Context, _ cloudflare.Credentials, zoneID, recordID string) error {
	for i, r := range f.records[zoneID] {
		if r.ID == recordID {
			f.records[zoneID] = append(f.records[zoneID][:i], f.records[zoneID][i+1:]...)
			return nil
		}
	}
	return &cloudflare.PermanentError{StatusCode: http.StatusNotFound, Message: "record not found"}
}

func (f *fakeGateway) CreateTunnel(_ context.Context, _ cloudflare.Credentials, name, _ string) (*cloudflare.Tunnel, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &cloudflare.Tunnel{ID: "remote-" + name, Name: name}, nil
}

func (f *fakeGateway) PushTunnelConfiguration(_ context.Context, _ cloudflare.Credentials, _ string, _ cloudflare.TunnelConfiguration) error {
	f.pushCalls++
	return f.pushErr
}

func (f *fakeGateway) DeleteTunnel(_ context.Context, _ cloudflare.Credentials, _ string) error {
	return f.deleteErr
}

func (f *fakeGateway) GetTunnelConnections(_ context.Context, _ cloudflare.Credentials, _ string) ([]cloudflare.TunnelConnection, error) {
	f.connectionsCalls++
	return []cloudflare.TunnelConnection{{ID: "conn-1", ColoName: "SYD"}}, nil
}

func newFacade(t *testing.T) (*Facade, *fakeGateway) {
	t.Helper()
	gateway := newFakeGateway()
	facade := New(Config{
		Tenants:  memory.NewTenantStore(),
		Sessions: memory.NewSessionStore(),
		Tunnels:  memory.NewTunnelStore(),
		Groups:   memory.NewDomainGroupStore(),
		Config:   memory.NewConfigStore(),
		Gateway:  gateway,
		Cache:    cache.New(time.Minute),
	})
	return facade, gateway
}

// bootstrap makes rootUser the super admin and creates one tenant,
// returning its ID.
func bootstrap(t *testing.T, facade *Facade, rootUser, tenantName string) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	_, _, err := facade.Handle(ctx, rootUser, Command{Name: CmdStart})
	require.NoError(t, err)

	_, result, err := facade.Handle(ctx, rootUser, Command{
		Name:       CmdAddTenant,
		TenantName: tenantName,
		Token:      "cf-token-" + tenantName,
		AccountID:  "acct-" + tenantName,
	})
	require.NoError(t, err)

	summary, ok := result.Data.(TenantSummary)
	require.True(t, ok)
	return summary.TenantID
}

func TestFacade_EndToEnd(t *testing.T) {
	ctx := context.Background()
	facade, _ := newFacade(t)

	// First user becomes super admin.
	_, result, err := facade.Handle(ctx, "u1", Command{Name: CmdStart})
	require.NoError(t, err)
	require.Contains(t, result.Message, "super admin")

	// Super admin registers a tenant; the token is probed, stored and
	// never echoed back.
	_, result, err = facade.Handle(ctx, "u1", Command{
		Name:       CmdAddTenant,
		TenantName: "acme",
		Token:      "cf-secret-token",
		AccountID:  "acct123",
	})
	require.NoError(t, err)
	require.NotContains(t, result.Message, "cf-secret-token")
	summary := result.Data.(TenantSummary)
	require.NotContains(t, summary.Token, "cf-secret-token")
	require.Empty(t, summary.Admins)

	// Super admin assigns U2 as tenant admin.
	_, _, err = facade.Handle(ctx, "u1", Command{
		Name:        CmdAssignAdmin,
		TenantID:    &summary.TenantID,
		AdminUserID: "u2",
	})
	require.NoError(t, err)

	// U2 selects the tenant by name.
	session, _, err := facade.Handle(ctx, "u2", Command{Name: CmdSwitchTenant, TenantName: "acme"})
	require.NoError(t, err)
	require.NotNil(t, session.ActiveTenantID)
	require.Equal(t, summary.TenantID, *session.ActiveTenantID)

	// U2 provisions a tunnel; the secret is stored, not shown.
	session, result, err = facade.Handle(ctx, "u2", Command{Name: CmdCreateTunnel, TunnelName: "home-server"})
	require.NoError(t, err)
	require.NotNil(t, session.ActiveTunnelID)
	tun := result.Data.(TunnelSummary)
	require.Equal(t, "idle", tun.Status)
	require.Contains(t, result.Message, "will not be shown")

	// Adding a hostname activates the tunnel.
	_, result, err = facade.Handle(ctx, "u2", Command{
		Name:       CmdAddHostname,
		Subdomain:  "app.example.com",
		ServiceURL: "http://localhost:8080",
	})
	require.NoError(t, err)
	require.Equal(t, "active", result.Data.(TunnelSummary).Status)

	// list-tunnels observes the mutation.
	_, result, err = facade.Handle(ctx, "u2", Command{Name: CmdListTunnels})
	require.NoError(t, err)
	tunnels := result.Data.([]TunnelSummary)
	require.Len(t, tunnels, 1)
	require.Len(t, tunnels[0].Hostnames, 1)
	require.Equal(t, "app.example.com", tunnels[0].Hostnames[0].Subdomain)

	// Delete is idempotent.
	_, _, err = facade.Handle(ctx, "u2", Command{Name: CmdDeleteTunnel, TunnelID: &tun.TunnelID})
	require.NoError(t, err)
	_, _, err = facade.Handle(ctx, "u2", Command{Name: CmdDeleteTunnel, TunnelID: &tun.TunnelID})
	require.NoError(t, err)

	_, result, err = facade.Handle(ctx, "u2", Command{Name: CmdListTunnels})
	require.NoError(t, err)
	require.Empty(t, result.Data.([]TunnelSummary))
}

func TestFacade_Authorization(t *testing.T) {
	ctx := context.Background()

	t.Run("tenant admin denied global commands", func(t *testing.T) {
		facade, _ := newFacade(t)
		tenantID := bootstrap(t, facade, "root", "acme")
		_, _, err := facade.Handle(ctx, "root", Command{Name: CmdAssignAdmin, TenantID: &tenantID, AdminUserID: "u2"})
		require.NoError(t, err)

		for _, cmd := range []Command{
			{Name: CmdListTenants},
			{Name: CmdAddTenant, TenantName: "x", Token: "t", AccountID: "a"},
			{Name: CmdDeleteTenant, TenantID: &tenantID},
			{Name: CmdStats},
		} {
			_, result, err := facade.Handle(ctx, "u2", cmd)
			var authErr *AuthorizationError
			require.ErrorAs(t, err, &authErr, string(cmd.Name))
			require.Contains(t, result.Message, "not authorized")
		}
	})

	t.Run("admin scoped to own tenant only", func(t *testing.T) {
		facade, _ := newFacade(t)
		acmeID := bootstrap(t, facade, "root", "acme")
		_, _, err := facade.Handle(ctx, "root", Command{
			Name: CmdAddTenant, TenantName: "globex", Token: "t2", AccountID: "a2",
		})
		require.NoError(t, err)
		_, _, err = facade.Handle(ctx, "root", Command{Name: CmdAssignAdmin, TenantID: &acmeID, AdminUserID: "u2"})
		require.NoError(t, err)

		_, _, err = facade.Handle(ctx, "u2", Command{Name: CmdSwitchTenant, TenantName: "acme"})
		require.NoError(t, err)

		_, _, err = facade.Handle(ctx, "u2", Command{Name: CmdSwitchTenant, TenantName: "globex"})
		var authErr *AuthorizationError
		require.ErrorAs(t, err, &authErr)

		// Super admin can switch into any tenant.
		_, _, err = facade.Handle(ctx, "root", Command{Name: CmdSwitchTenant, TenantName: "globex"})
		require.NoError(t, err)
	})

	t.Run("unknown user denied everything but start", func(t *testing.T) {
		facade, _ := newFacade(t)
		bootstrap(t, facade, "root", "acme")

		_, result, err := facade.Handle(ctx, "stranger", Command{Name: CmdStart})
		require.NoError(t, err)
		require.Contains(t, result.Message, "no tenants assigned")

		_, _, err = facade.Handle(ctx, "stranger", Command{Name: CmdListTenants})
		var authErr *AuthorizationError
		require.ErrorAs(t, err, &authErr)
	})
}

func TestFacade_Caching(t *testing.T) {
	ctx := context.Background()

	t.Run("repeated list-domains served from cache", func(t *testing.T) {
		facade, gateway := newFacade(t)
		bootstrap(t, facade, "root", "acme")
		_, _, err := facade.Handle(ctx, "root", Command{Name: CmdSwitchTenant, TenantName: "acme"})
		require.NoError(t, err)

		calls := gateway.listZonesCalls
		for range 3 {
			_, result, err := facade.Handle(ctx, "root", Command{Name: CmdListDomains})
			require.NoError(t, err)
			require.Len(t, result.Data.([]cloudflare.Zone), 1)
		}
		require.Equal(t, calls+1, gateway.listZonesCalls)
	})

	t.Run("refresh-cache forces a refetch", func(t *testing.T) {
		facade, gateway := newFacade(t)
		bootstrap(t, facade, "root", "acme")
		_, _, err := facade.Handle(ctx, "root", Command{Name: CmdSwitchTenant, TenantName: "acme"})
		require.NoError(t, err)

		_, _, err = facade.Handle(ctx, "root", Command{Name: CmdListDomains})
		require.NoError(t, err)
		calls := gateway.listZonesCalls

		_, _, err = facade.Handle(ctx, "root", Command{Name: CmdRefreshCache})
		require.NoError(t, err)
		_, _, err = facade.Handle(ctx, "root", Command{Name: CmdListDomains})
		require.NoError(t, err)
		require.Equal(t, calls+1, gateway.listZonesCalls)
	})

	t.Run("record mutation invalidates that zone's records", func(t *testing.T) {
		facade, gateway := newFacade(t)
		bootstrap(t, facade, "root", "acme")
		_, _, err := facade.Handle(ctx, "root", Command{Name: CmdSwitchTenant, TenantName: "acme"})
		require.NoError(t, err)

		_, _, err = facade.Handle(ctx, "root", Command{Name: CmdListRecords, ZoneID: "z1"})
		require.NoError(t, err)

		_, _, err = facade.Handle(ctx, "root", Command{
			Name: CmdCreateRecord, ZoneID: "z1",
			Record: &RecordArgs{Type: "A", Name: "api.example.com", Content: "5.6.7.8", TTL: 300},
		})
		require.NoError(t, err)

		// The mutation is observed by the next read.
		_, result, err := facade.Handle(ctx, "root", Command{Name: CmdListRecords, ZoneID: "z1"})
		require.NoError(t, err)
		require.Len(t, result.Data.([]cloudflare.DNSRecord), 2)
		require.Equal(t, 2, gateway.listRecordsCalls)
	})
}

func TestFacade_PendingInput(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Facade, *fakeGateway) {
		facade, gateway := newFacade(t)
		bootstrap(t, facade, "root", "acme")
		_, _, err := facade.Handle(ctx, "root", Command{Name: CmdSwitchTenant, TenantName: "acme"})
		require.NoError(t, err)
		_, _, err = facade.Handle(ctx, "root", Command{Name: CmdCreateTunnel, TunnelName: "home-server"})
		require.NoError(t, err)
		return facade, gateway
	}

	t.Run("add-hostname without args waits for text", func(t *testing.T) {
		facade, _ := setup(t)

		session, result, err := facade.Handle(ctx, "root", Command{Name: CmdAddHostname})
		require.NoError(t, err)
		require.Equal(t, models.PendingHostname, session.Pending.Kind)
		require.Contains(t, result.Message, "service URL")

		session, result, err = facade.Handle(ctx, "root", Command{
			Name: CmdText, Text: "app.example.com http://localhost:8080",
		})
		require.NoError(t, err)
		require.Equal(t, models.PendingNone, session.Pending.Kind)
		require.Equal(t, "active", result.Data.(TunnelSummary).Status)
	})

	t.Run("add-network without args waits for CIDR", func(t *testing.T) {
		facade, _ := setup(t)

		session, _, err := facade.Handle(ctx, "root", Command{Name: CmdAddNetwork})
		require.NoError(t, err)
		require.Equal(t, models.PendingCIDR, session.Pending.Kind)

		_, result, err := facade.Handle(ctx, "root", Command{Name: CmdText, Text: " 10.0.0.0/8 "})
		require.NoError(t, err)
		require.Contains(t, result.Message, "10.0.0.0/8")
	})

	t.Run("any other command clears the marker", func(t *testing.T) {
		facade, _ := setup(t)

		_, _, err := facade.Handle(ctx, "root", Command{Name: CmdAddHostname})
		require.NoError(t, err)

		session, _, err := facade.Handle(ctx, "root", Command{Name: CmdListTunnels})
		require.NoError(t, err)
		require.Equal(t, models.PendingNone, session.Pending.Kind)

		_, _, err = facade.Handle(ctx, "root", Command{Name: CmdText, Text: "app.example.com http://x"})
		var usage *UsageError
		require.ErrorAs(t, err, &usage)
	})

	t.Run("text without pending input is an error", func(t *testing.T) {
		facade, _ := setup(t)

		_, _, err := facade.Handle(ctx, "root", Command{Name: CmdText, Text: "hello"})
		var usage *UsageError
		require.ErrorAs(t, err, &usage)
	})
}

func TestFacade_StaleReferences(t *testing.T) {
	ctx := context.Background()

	t.Run("deleting active tenant resets own session", func(t *testing.T) {
		facade, _ := newFacade(t)
		tenantID := bootstrap(t, facade, "root", "acme")
		_, _, err := facade.Handle(ctx, "root", Command{Name: CmdSwitchTenant, TenantName: "acme"})
		require.NoError(t, err)

		session, _, err := facade.Handle(ctx, "root", Command{Name: CmdDeleteTenant, TenantID: &tenantID})
		require.NoError(t, err)
		require.Nil(t, session.ActiveTenantID)
	})

	t.Run("other session resolves deleted tenant lazily", func(t *testing.T) {
		facade, _ := newFacade(t)
		tenantID := bootstrap(t, facade, "root", "acme")
		_, _, err := facade.Handle(ctx, "root", Command{Name: CmdAssignAdmin, TenantID: &tenantID, AdminUserID: "u2"})
		require.NoError(t, err)
		_, _, err = facade.Handle(ctx, "u2", Command{Name: CmdSwitchTenant, TenantName: "acme"})
		require.NoError(t, err)

		_, _, err = facade.Handle(ctx, "root", Command{Name: CmdDeleteTenant, TenantID: &tenantID})
		require.NoError(t, err)

		session, result, err := facade.Handle(ctx, "u2", Command{Name: CmdListDomains})
		var stale *StaleReferenceError
		require.ErrorAs(t, err, &stale)
		require.Contains(t, result.Message, "no longer exists")
		require.Nil(t, session.ActiveTenantID)

		// The cleared session persists: the next command reports no
		// selection instead of failing again.
		_, _, err = facade.Handle(ctx, "u2", Command{Name: CmdListDomains})
		var usage *UsageError
		require.ErrorAs(t, err, &usage)
	})
}

func TestFacade_TokenHandling(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid token rejected by probe before persisting", func(t *testing.T) {
		facade, gateway := newFacade(t)
		_, _, err := facade.Handle(ctx, "root", Command{Name: CmdStart})
		require.NoError(t, err)

		gateway.listZonesErr = &cloudflare.PermanentError{StatusCode: http.StatusForbidden, Message: "Invalid access token"}
		_, result, err := facade.Handle(ctx, "root", Command{
			Name: CmdAddTenant, TenantName: "acme", Token: "bad-token", AccountID: "acct",
		})
		require.Error(t, err)
		require.Contains(t, result.Message, "Invalid access token")

		gateway.listZonesErr = nil
		_, result, err = facade.Handle(ctx, "root", Command{Name: CmdListTenants})
		require.NoError(t, err)
		require.Empty(t, result.Data.([]TenantSummary))
	})

	t.Run("rotate-token probes and never echoes", func(t *testing.T) {
		facade, _ := newFacade(t)
		tenantID := bootstrap(t, facade, "root", "acme")

		_, result, err := facade.Handle(ctx, "root", Command{
			Name: CmdRotateToken, TenantID: &tenantID, Token: "new-secret-token",
		})
		require.NoError(t, err)
		require.NotContains(t, result.Message, "new-secret-token")
	})

	t.Run("rotate-token rejects failing probe", func(t *testing.T) {
		facade, gateway := newFacade(t)
		tenantID := bootstrap(t, facade, "root", "acme")

		gateway.verifyErr = &cloudflare.PermanentError{StatusCode: http.StatusUnauthorized, Message: "invalid token"}
		_, _, err := facade.Handle(ctx, "root", Command{
			Name: CmdRotateToken, TenantID: &tenantID, Token: "bad",
		})
		require.Error(t, err)

		// The stored token is unchanged and still displays its old
		// fingerprint.
		_, result, err := facade.Handle(ctx, "root", Command{Name: CmdListTenants})
		require.NoError(t, err)
		tenants := result.Data.([]TenantSummary)
		require.Len(t, tenants, 1)
		require.True(t, strings.HasPrefix(tenants[0].Token, "***"))
	})
}

func TestFacade_DomainGroups(t *testing.T) {
	ctx := context.Background()
	facade, _ := newFacade(t)
	bootstrap(t, facade, "root", "acme")
	_, _, err := facade.Handle(ctx, "root", Command{Name: CmdSwitchTenant, TenantName: "acme"})
	require.NoError(t, err)

	_, result, err := facade.Handle(ctx, "root", Command{Name: CmdCreateGroup, GroupName: "production"})
	require.NoError(t, err)
	group := result.Data.(*models.DomainGroup)

	_, _, err = facade.Handle(ctx, "root", Command{
		Name: CmdAddGroupDomain, GroupID: &group.GroupID, Domain: "example.com",
	})
	require.NoError(t, err)

	// Adding the same domain twice is a friendly no-op.
	_, result, err = facade.Handle(ctx, "root", Command{
		Name: CmdAddGroupDomain, GroupID: &group.GroupID, Domain: "example.com",
	})
	require.NoError(t, err)
	require.Contains(t, result.Message, "already")

	_, result, err = facade.Handle(ctx, "root", Command{Name: CmdListGroups})
	require.NoError(t, err)
	groups := result.Data.([]*models.DomainGroup)
	require.Len(t, groups, 1)
	require.Equal(t, []string{"example.com"}, groups[0].Domains)
}

func TestFacade_Stats(t *testing.T) {
	ctx := context.Background()
	facade, _ := newFacade(t)
	bootstrap(t, facade, "root", "acme")
	_, _, err := facade.Handle(ctx, "root", Command{Name: CmdSwitchTenant, TenantName: "acme"})
	require.NoError(t, err)
	_, _, err = facade.Handle(ctx, "root", Command{Name: CmdCreateTunnel, TunnelName: "home-server"})
	require.NoError(t, err)

	_, result, err := facade.Handle(ctx, "root", Command{Name: CmdStats})
	require.NoError(t, err)
	stats := result.Data.(map[string]int)
	require.Equal(t, 1, stats["tenants"])
	require.Equal(t, 1, stats["tunnels"])
}

func TestFacade_RollbackVisibleThroughFacade(t *testing.T) {
	ctx := context.Background()
	facade, gateway := newFacade(t)
	bootstrap(t, facade, "root", "acme")
	_, _, err := facade.Handle(ctx, "root", Command{Name: CmdSwitchTenant, TenantName: "acme"})
	require.NoError(t, err)
	_, _, err = facade.Handle(ctx, "root", Command{Name: CmdCreateTunnel, TunnelName: "home-server"})
	require.NoError(t, err)
	_, _, err = facade.Handle(ctx, "root", Command{
		Name: CmdAddHostname, Subdomain: "app.example.com", ServiceURL: "http://localhost:8080",
	})
	require.NoError(t, err)

	gateway.pushErr = &cloudflare.TransientError{StatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")}
	_, _, err = facade.Handle(ctx, "root", Command{
		Name: CmdAddHostname, Subdomain: "db.example.com", ServiceURL: "tcp://localhost:5432",
	})
	require.Error(t, err)

	// The tunnel still reflects the last successfully pushed config.
	_, result, err := facade.Handle(ctx, "root", Command{Name: CmdListTunnels})
	require.NoError(t, err)
	tunnels := result.Data.([]TunnelSummary)
	require.Len(t, tunnels, 1)
	require.Len(t, tunnels[0].Hostnames, 1)
	require.Equal(t, "app.example.com", tunnels[0].Hostnames[0].Subdomain)
}

// overlapCheckingSessionStore flags any two session store calls that
// overlap in time. With all commands issued by a single user, an overlap
// means that user's commands were not serialized.
type overlapCheckingSessionStore struct {
	store.SessionStore
	busy  atomic.Bool
	raced atomic.Bool
}

func (s *overlapCheckingSessionStore) enter() func() {
	if !s.busy.CompareAndSwap(false, true) {
		s.raced.Store(true)
	}
	return func() { s.busy.Store(false) }
}

func (s *overlapCheckingSessionStore) Get(ctx context.Context, userID string) (*models.Session, error) {
	defer s.enter()()
	return s.SessionStore.Get(ctx, userID)
}

func (s *overlapCheckingSessionStore) Put(ctx context.Context, session *models.Session) error {
	defer s.enter()()
	return s.SessionStore.Put(ctx, session)
}

func TestFacade_ConcurrentCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("one user's commands are serialized", func(t *testing.T) {
		gateway := newFakeGateway()
		sessions := &overlapCheckingSessionStore{SessionStore: memory.NewSessionStore()}
		groups := memory.NewDomainGroupStore()
		facade := New(Config{
			Tenants:  memory.NewTenantStore(),
			Sessions: sessions,
			Tunnels:  memory.NewTunnelStore(),
			Groups:   groups,
			Config:   memory.NewConfigStore(),
			Gateway:  gateway,
			Cache:    cache.New(time.Minute),
		})

		tenantID := bootstrap(t, facade, "root", "acme")
		_, _, err := facade.Handle(ctx, "root", Command{Name: CmdAssignAdmin, TenantID: &tenantID, AdminUserID: "u2"})
		require.NoError(t, err)
		_, _, err = facade.Handle(ctx, "u2", Command{Name: CmdSwitchTenant, TenantID: &tenantID})
		require.NoError(t, err)

		const workers = 16
		errs := make(chan error, workers)
		var wg sync.WaitGroup
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := facade.Handle(ctx, "u2", Command{
					Name: CmdCreateGroup, GroupName: fmt.Sprintf("group-%02d", i),
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}
		require.False(t, sessions.raced.Load(), "session store calls overlapped for one user")

		created, err := groups.ListByTenant(ctx, tenantID)
		require.NoError(t, err)
		require.Len(t, created, workers)

		facade.mu.Lock()
		remaining := len(facade.userLocks)
		facade.mu.Unlock()
		require.Zero(t, remaining, "user locks should be dropped once idle")
	})

	t.Run("exactly one concurrent first user wins the bootstrap", func(t *testing.T) {
		facade, _ := newFacade(t)

		const users = 8
		results := make([]*Result, users)
		errs := make(chan error, users)
		var wg sync.WaitGroup
		for i := range users {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, result, err := facade.Handle(ctx, fmt.Sprintf("user-%d", i), Command{Name: CmdStart})
				results[i] = result
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		admins := 0
		for _, result := range results {
			require.NotNil(t, result)
			if strings.Contains(result.Message, "You are the super admin") {
				admins++
			}
		}
		require.Equal(t, 1, admins)

		facade.mu.Lock()
		remaining := len(facade.userLocks)
		facade.mu.Unlock()
		require.Zero(t, remaining)
	})
}

func TestFacade_TunnelConnectionsCaching(t *testing.T) {
	ctx := context.Background()
	facade, gateway := newFacade(t)

	tenantID := bootstrap(t, facade, "root", "acme")
	_, _, err := facade.Handle(ctx, "root", Command{Name: CmdSwitchTenant, TenantID: &tenantID})
	require.NoError(t, err)
	_, _, err = facade.Handle(ctx, "root", Command{Name: CmdCreateTunnel, TunnelName: "home-server"})
	require.NoError(t, err)

	for range 3 {
		_, result, err := facade.Handle(ctx, "root", Command{Name: CmdTunnelInfo})
		require.NoError(t, err)
		require.Contains(t, result.Message, "1 live connection(s)")
	}
	require.Equal(t, 1, gateway.connectionsCalls)

	// A configuration change invalidates the cached connections.
	_, _, err = facade.Handle(ctx, "root", Command{
		Name: CmdAddHostname, Subdomain: "app.example.com", ServiceURL: "http://localhost:8080",
	})
	require.NoError(t, err)

	_, _, err = facade.Handle(ctx, "root", Command{Name: CmdTunnelInfo})
	require.NoError(t, err)
	require.Equal(t, 2, gateway.connectionsCalls)
}
