package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tunnelkeep/tunnelkeep/internal/models"
	"github.com/tunnelkeep/tunnelkeep/internal/store"
)

func newTenant(name string) *models.Tenant {
	return &models.Tenant{
		TenantID:  uuid.New(),
		Name:      name,
		AccountID: "acct-" + name,
		APIToken:  "token-" + name,
		CreatedAt: time.Now(),
	}
}

func TestMemoryTenantStore_Create(t *testing.T) {
	t.Run("create new tenant", func(t *testing.T) {
		st := NewTenantStore()
		ctx := context.Background()

		err := st.Create(ctx, newTenant("acme"))
		require.NoError(t, err)
	})

	t.Run("create duplicate id returns error", func(t *testing.T) {
		st := NewTenantStore()
		ctx := context.Background()

		tenant := newTenant("acme")
		require.NoError(t, st.Create(ctx, tenant))

		err := st.Create(ctx, tenant)
		require.ErrorIs(t, err, store.ErrTenantAlreadyExists)
	})

	t.Run("create duplicate name returns error", func(t *testing.T) {
		st := NewTenantStore()
		ctx := context.Background()

		require.NoError(t, st.Create(ctx, newTenant("acme")))

		err := st.Create(ctx, newTenant("acme"))
		require.ErrorIs(t, err, store.ErrTenantAlreadyExists)
	})
}

func TestMemoryTenantStore_Get(t *testing.T) {
	t.Run("get existing tenant", func(t *testing.T) {
		st := NewTenantStore()
		ctx := context.Background()

		tenant := newTenant("acme")
		require.NoError(t, st.Create(ctx, tenant))

		retrieved, err := st.Get(ctx, tenant.TenantID)
		require.NoError(t, err)
		require.Equal(t, tenant.Name, retrieved.Name)
		require.Equal(t, tenant.AccountID, retrieved.AccountID)
	})

	t.Run("get nonexistent tenant returns error", func(t *testing.T) {
		st := NewTenantStore()
		ctx := context.Background()

		_, err := st.Get(ctx, uuid.New())
		require.ErrorIs(t, err, store.ErrTenantNotFound)
	})

	t.Run("get returns copy of tenant", func(t *testing.T) {
		st := NewTenantStore()
		ctx := context.Background()

		tenant := newTenant("acme")
		tenant.AdminUserIDs = []string{"u1"}
		require.NoError(t, st.Create(ctx, tenant))

		retrieved, err := st.Get(ctx, tenant.TenantID)
		require.NoError(t, err)
		retrieved.AdminUserIDs[0] = "mutated"

		again, err := st.Get(ctx, tenant.TenantID)
		require.NoError(t, err)
		require.Equal(t, []string{"u1"}, again.AdminUserIDs)
	})

	t.Run("get by name", func(t *testing.T) {
		st := NewTenantStore()
		ctx := context.Background()

		tenant := newTenant("acme")
		require.NoError(t, st.Create(ctx, tenant))

		retrieved, err := st.GetByName(ctx, "acme")
		require.NoError(t, err)
		require.Equal(t, tenant.TenantID, retrieved.TenantID)

		_, err = st.GetByName(ctx, "nonexistent")
		require.ErrorIs(t, err, store.ErrTenantNotFound)
	})
}

func TestMemoryTenantStore_ListForAdmin(t *testing.T) {
	st := NewTenantStore()
	ctx := context.Background()

	acme := newTenant("acme")
	acme.AdminUserIDs = []string{"u1", "u2"}
	require.NoError(t, st.Create(ctx, acme))

	globex := newTenant("globex")
	globex.AdminUserIDs = []string{"u2"}
	require.NoError(t, st.Create(ctx, globex))

	t.Run("returns only assigned tenants", func(t *testing.T) {
		tenants, err := st.ListForAdmin(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, tenants, 1)
		require.Equal(t, "acme", tenants[0].Name)
	})

	t.Run("returns all assignments", func(t *testing.T) {
		tenants, err := st.ListForAdmin(ctx, "u2")
		require.NoError(t, err)
		require.Len(t, tenants, 2)
	})

	t.Run("unknown user gets nothing", func(t *testing.T) {
		tenants, err := st.ListForAdmin(ctx, "u3")
		require.NoError(t, err)
		require.Empty(t, tenants)
	})
}

func TestMemoryTenantStore_Delete(t *testing.T) {
	st := NewTenantStore()
	ctx := context.Background()

	tenant := newTenant("acme")
	require.NoError(t, st.Create(ctx, tenant))

	require.NoError(t, st.Delete(ctx, tenant.TenantID))

	_, err := st.Get(ctx, tenant.TenantID)
	require.ErrorIs(t, err, store.ErrTenantNotFound)

	err = st.Delete(ctx, tenant.TenantID)
	require.ErrorIs(t, err, store.ErrTenantNotFound)
}
