//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/tunnelkeep/tunnelkeep/internal/models"
	"github.com/tunnelkeep/tunnelkeep/internal/store"
)

// setupPostgres starts a PostgreSQL container and returns a migrated pool.
func setupPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connString := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	pool, err := NewPool(ctx, &PoolConfig{
		ConnString:  connString,
		MaxConns:    5,
		MinConns:    1,
		AutoMigrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

func newTenant(name string, admins ...string) *models.Tenant {
	return &models.Tenant{
		TenantID:     uuid.New(),
		Name:         name,
		AccountID:    "acct-" + name,
		APIToken:     "token-" + name,
		AdminUserIDs: admins,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestTenantStoreIntegration(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	tenants := NewTenantStore(pool)

	t.Run("create get round-trip with admins", func(t *testing.T) {
		tenant := newTenant("acme", "u1", "u2")
		require.NoError(t, tenants.Create(ctx, tenant))

		got, err := tenants.Get(ctx, tenant.TenantID)
		require.NoError(t, err)
		require.Equal(t, tenant.Name, got.Name)
		require.Equal(t, tenant.APIToken, got.APIToken)
		require.ElementsMatch(t, []string{"u1", "u2"}, got.AdminUserIDs)

		byName, err := tenants.GetByName(ctx, "acme")
		require.NoError(t, err)
		require.Equal(t, tenant.TenantID, byName.TenantID)
	})

	t.Run("duplicate name rejected", func(t *testing.T) {
		require.NoError(t, tenants.Create(ctx, newTenant("dup")))
		err := tenants.Create(ctx, newTenant("dup"))
		require.ErrorIs(t, err, store.ErrTenantAlreadyExists)
	})

	t.Run("update replaces admin set and token", func(t *testing.T) {
		tenant := newTenant("update-me", "u1")
		require.NoError(t, tenants.Create(ctx, tenant))

		tenant.APIToken = "rotated"
		tenant.AdminUserIDs = []string{"u3"}
		require.NoError(t, tenants.Update(ctx, tenant))

		got, err := tenants.Get(ctx, tenant.TenantID)
		require.NoError(t, err)
		require.Equal(t, "rotated", got.APIToken)
		require.Equal(t, []string{"u3"}, got.AdminUserIDs)
	})

	t.Run("list for admin scopes to assignments", func(t *testing.T) {
		require.NoError(t, tenants.Create(ctx, newTenant("scoped-a", "admin-x")))
		require.NoError(t, tenants.Create(ctx, newTenant("scoped-b")))

		got, err := tenants.ListForAdmin(ctx, "admin-x")
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "scoped-a", got[0].Name)
	})

	t.Run("missing tenant yields sentinel", func(t *testing.T) {
		_, err := tenants.Get(ctx, uuid.New())
		require.ErrorIs(t, err, store.ErrTenantNotFound)
		require.ErrorIs(t, tenants.Delete(ctx, uuid.New()), store.ErrTenantNotFound)
	})
}

func TestTunnelStoreIntegration(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	tenants := NewTenantStore(pool)
	tunnels := NewTunnelStore(pool)

	tenant := newTenant("tunnel-owner")
	require.NoError(t, tenants.Create(ctx, tenant))

	t.Run("round-trips configuration rows in order", func(t *testing.T) {
		tun := &models.Tunnel{
			TunnelID: uuid.New(),
			TenantID: tenant.TenantID,
			RemoteID: "remote-1",
			Name:     "home-server",
			Secret:   "s3cret",
			Status:   models.TunnelStatusActive,
			Hostnames: []models.PublicHostname{
				{Subdomain: "app.example.com", ServiceURL: "http://localhost:8080"},
				{Subdomain: "db.example.com", ServiceURL: "tcp://localhost:5432"},
			},
			Networks: []models.PrivateNetworkRoute{{CIDR: "10.0.0.0/8"}},
		}
		require.NoError(t, tunnels.Create(ctx, tun))

		got, err := tunnels.Get(ctx, tun.TunnelID)
		require.NoError(t, err)
		require.Equal(t, tun.Hostnames, got.Hostnames)
		require.Equal(t, tun.Networks, got.Networks)
		require.Equal(t, "s3cret", got.Secret)
	})

	t.Run("update rewrites configuration", func(t *testing.T) {
		tun := &models.Tunnel{
			TunnelID: uuid.New(),
			TenantID: tenant.TenantID,
			Name:     "reconfig",
			Secret:   "s",
			Status:   models.TunnelStatusProvisioned,
		}
		require.NoError(t, tunnels.Create(ctx, tun))

		tun.Status = models.TunnelStatusActive
		tun.Hostnames = []models.PublicHostname{{Subdomain: "x.example.com", ServiceURL: "http://localhost:1"}}
		require.NoError(t, tunnels.Update(ctx, tun))

		got, err := tunnels.Get(ctx, tun.TunnelID)
		require.NoError(t, err)
		require.Equal(t, models.TunnelStatusActive, got.Status)
		require.Len(t, got.Hostnames, 1)
	})

	t.Run("orphan tunnel rejected", func(t *testing.T) {
		tun := &models.Tunnel{
			TunnelID: uuid.New(),
			TenantID: uuid.New(),
			Name:     "orphan",
			Secret:   "s",
			Status:   models.TunnelStatusRequested,
		}
		require.ErrorIs(t, tunnels.Create(ctx, tun), store.ErrTenantNotFound)
	})

	t.Run("tenant delete cascades tunnels", func(t *testing.T) {
		owner := newTenant("cascade-owner")
		require.NoError(t, tenants.Create(ctx, owner))
		tun := &models.Tunnel{
			TunnelID: uuid.New(),
			TenantID: owner.TenantID,
			Name:     "doomed",
			Secret:   "s",
			Status:   models.TunnelStatusProvisioned,
		}
		require.NoError(t, tunnels.Create(ctx, tun))

		require.NoError(t, tenants.Delete(ctx, owner.TenantID))
		_, err := tunnels.Get(ctx, tun.TunnelID)
		require.ErrorIs(t, err, store.ErrTunnelNotFound)
	})
}

func TestSessionStoreIntegration(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	sessions := NewSessionStore(pool)

	t.Run("put is an upsert", func(t *testing.T) {
		tenantID := uuid.New()
		session := &models.Session{UserID: "u1", ActiveTenantID: &tenantID}
		require.NoError(t, sessions.Put(ctx, session))

		tunnelID := uuid.New()
		session.ActiveTunnelID = &tunnelID
		session.Pending = models.PendingInput{Kind: models.PendingHostname, TunnelID: tunnelID}
		require.NoError(t, sessions.Put(ctx, session))

		got, err := sessions.Get(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, tenantID, *got.ActiveTenantID)
		require.Equal(t, models.PendingHostname, got.Pending.Kind)
		require.Equal(t, tunnelID, got.Pending.TunnelID)
	})

	t.Run("missing session yields sentinel", func(t *testing.T) {
		_, err := sessions.Get(ctx, "nobody")
		require.ErrorIs(t, err, store.ErrSessionNotFound)
		require.ErrorIs(t, sessions.Delete(ctx, "nobody"), store.ErrSessionNotFound)
	})
}

func TestConfigStoreIntegration(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	config := NewConfigStore(pool)

	t.Run("set if absent is first writer wins", func(t *testing.T) {
		won, err := config.SetIfAbsent(ctx, store.ConfigKeySuperAdmin, "u1")
		require.NoError(t, err)
		require.True(t, won)

		won, err = config.SetIfAbsent(ctx, store.ConfigKeySuperAdmin, "u2")
		require.NoError(t, err)
		require.False(t, won)

		value, err := config.Get(ctx, store.ConfigKeySuperAdmin)
		require.NoError(t, err)
		require.Equal(t, "u1", value)
	})

	t.Run("set replaces", func(t *testing.T) {
		require.NoError(t, config.Set(ctx, "k", "v1"))
		require.NoError(t, config.Set(ctx, "k", "v2"))
		value, err := config.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, "v2", value)
	})

	t.Run("missing key yields sentinel", func(t *testing.T) {
		_, err := config.Get(ctx, "missing")
		require.ErrorIs(t, err, store.ErrConfigNotFound)
	})
}

func TestDomainGroupStoreIntegration(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	tenants := NewTenantStore(pool)
	groups := NewDomainGroupStore(pool)

	tenant := newTenant("group-owner")
	require.NoError(t, tenants.Create(ctx, tenant))

	t.Run("round-trip with members", func(t *testing.T) {
		group := &models.DomainGroup{
			GroupID:  uuid.New(),
			TenantID: tenant.TenantID,
			Name:     "production",
			Domains:  []string{"example.com", "example.org"},
		}
		require.NoError(t, groups.Create(ctx, group))

		got, err := groups.Get(ctx, group.GroupID)
		require.NoError(t, err)
		require.ElementsMatch(t, group.Domains, got.Domains)

		got.Domains = append(got.Domains, "example.net")
		require.NoError(t, groups.Update(ctx, got))

		listed, err := groups.ListByTenant(ctx, tenant.TenantID)
		require.NoError(t, err)
		require.Len(t, listed, 1)
		require.Len(t, listed[0].Domains, 3)
	})

	t.Run("duplicate name within tenant rejected", func(t *testing.T) {
		g := func() *models.DomainGroup {
			return &models.DomainGroup{GroupID: uuid.New(), TenantID: tenant.TenantID, Name: "dup"}
		}
		require.NoError(t, groups.Create(ctx, g()))
		require.ErrorIs(t, groups.Create(ctx, g()), store.ErrDomainGroupAlreadyExists)
	})
}
