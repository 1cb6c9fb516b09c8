package commands

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tunnelkeep/tunnelkeep/internal/cloudflare"
	"github.com/tunnelkeep/tunnelkeep/internal/logger"
	"github.com/tunnelkeep/tunnelkeep/internal/store/memory"
)

type fakeProbe struct {
	err    error
	tokens []string
}

func (p *fakeProbe) VerifyToken(ctx context.Context, creds cloudflare.Credentials) error {
	p.tokens = append(p.tokens, creds.APIToken)
	return p.err
}

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSeedTenants(t *testing.T) {
	ctx := context.Background()
	log := logger.Setup(false)

	t.Run("registers tenants with verified tokens", func(t *testing.T) {
		tenants := memory.NewTenantStore()
		probe := &fakeProbe{}
		path := writeSeedFile(t, `
tenants:
  - name: acme
    account_id: acct-1
    api_token: token-1
    admins: [u1, u2]
  - name: globex
    account_id: acct-2
    api_token: token-2
`)

		require.NoError(t, seedTenants(ctx, log, path, tenants, probe))
		require.Equal(t, []string{"token-1", "token-2"}, probe.tokens)

		acme, err := tenants.GetByName(ctx, "acme")
		require.NoError(t, err)
		require.Equal(t, "acct-1", acme.AccountID)
		require.Equal(t, []string{"u1", "u2"}, acme.AdminUserIDs)
	})

	t.Run("existing tenants are skipped without a probe", func(t *testing.T) {
		tenants := memory.NewTenantStore()
		probe := &fakeProbe{}
		path := writeSeedFile(t, `
tenants:
  - name: acme
    account_id: acct-1
    api_token: token-1
`)

		require.NoError(t, seedTenants(ctx, log, path, tenants, probe))
		require.NoError(t, seedTenants(ctx, log, path, tenants, probe))
		require.Len(t, probe.tokens, 1)
	})

	t.Run("failed verification aborts the seed", func(t *testing.T) {
		tenants := memory.NewTenantStore()
		probe := &fakeProbe{err: errors.New("invalid token")}
		path := writeSeedFile(t, `
tenants:
  - name: acme
    account_id: acct-1
    api_token: token-1
`)

		require.Error(t, seedTenants(ctx, log, path, tenants, probe))
		_, err := tenants.GetByName(ctx, "acme")
		require.Error(t, err)
	})

	t.Run("incomplete entry is rejected", func(t *testing.T) {
		tenants := memory.NewTenantStore()
		path := writeSeedFile(t, `
tenants:
  - name: acme
    account_id: acct-1
`)
		require.Error(t, seedTenants(ctx, log, path, tenants, &fakeProbe{}))
	})
}
