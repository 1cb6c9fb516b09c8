package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/tunnelkeep/tunnelkeep/internal/models"
	"github.com/tunnelkeep/tunnelkeep/internal/store"
)

// TenantStore implements store.TenantStore using PostgreSQL. The admin set
// lives in tenant_admins and is rewritten wholesale on update; it is small
// by construction.
type TenantStore struct {
	pool *pgxpool.Pool
}

// NewTenantStore creates a new PostgreSQL-backed tenant store.
func NewTenantStore(pool *pgxpool.Pool) *TenantStore {
	return &TenantStore{
		pool: pool,
	}
}

// Create creates a new tenant and its admin assignments.
func (s *TenantStore) Create(ctx context.Context, tenant *models.Tenant) error {
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now()
	}
	tenant.UpdatedAt = tenant.CreatedAt

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	_, err = tx.Exec(ctx, `
		INSERT INTO tenants (
			tenant_id, name, account_id, api_token, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`,
		tenant.TenantID,
		tenant.Name,
		tenant.AccountID,
		tenant.APIToken,
		tenant.CreatedAt,
		tenant.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrTenantAlreadyExists
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	if err := insertAdmins(ctx, tx, tenant.TenantID, tenant.AdminUserIDs); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit tenant create: %w", err)
	}

	log.Debug().
		Str("tenant_id", tenant.TenantID.String()).
		Str("name", tenant.Name).
		Msg("Created tenant")

	return nil
}

// Get retrieves a tenant by ID.
func (s *TenantStore) Get(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	return s.getBy(ctx, `WHERE tenant_id = $1`, tenantID)
}

// GetByName retrieves a tenant by its unique display name.
func (s *TenantStore) GetByName(ctx context.Context, name string) (*models.Tenant, error) {
	return s.getBy(ctx, `WHERE name = $1`, name)
}

func (s *TenantStore) getBy(ctx context.Context, where string, arg any) (*models.Tenant, error) {
	query := `
		SELECT tenant_id, name, account_id, api_token, created_at, updated_at
		FROM tenants
	` + where

	var tenant models.Tenant
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&tenant.TenantID,
		&tenant.Name,
		&tenant.AccountID,
		&tenant.APIToken,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	admins, err := s.loadAdmins(ctx, tenant.TenantID)
	if err != nil {
		return nil, err
	}
	tenant.AdminUserIDs = admins

	return &tenant, nil
}

func (s *TenantStore) loadAdmins(ctx context.Context, tenantID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM tenant_admins WHERE tenant_id = $1 ORDER BY user_id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant admins: %w", err)
	}
	defer rows.Close()

	var admins []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan tenant admin: %w", err)
		}
		admins = append(admins, userID)
	}
	return admins, rows.Err()
}

// Update updates a tenant and replaces its admin set.
func (s *TenantStore) Update(ctx context.Context, tenant *models.Tenant) error {
	tenant.UpdatedAt = time.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	result, err := tx.Exec(ctx, `
		UPDATE tenants SET
			name = $2,
			account_id = $3,
			api_token = $4,
			updated_at = $5
		WHERE tenant_id = $1
	`,
		tenant.TenantID,
		tenant.Name,
		tenant.AccountID,
		tenant.APIToken,
		tenant.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrTenantAlreadyExists
		}
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrTenantNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM tenant_admins WHERE tenant_id = $1`, tenant.TenantID); err != nil {
		return fmt.Errorf("failed to clear tenant admins: %w", err)
	}
	if err := insertAdmins(ctx, tx, tenant.TenantID, tenant.AdminUserIDs); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit tenant update: %w", err)
	}

	log.Debug().
		Str("tenant_id", tenant.TenantID.String()).
		Msg("Updated tenant")

	return nil
}

func insertAdmins(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, admins []string) error {
	for _, userID := range admins {
		_, err := tx.Exec(ctx, `
			INSERT INTO tenant_admins (tenant_id, user_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, tenantID, userID)
		if err != nil {
			return fmt.Errorf("failed to insert tenant admin: %w", err)
		}
	}
	return nil
}

// Delete deletes a tenant. Tunnels, domain groups and admin assignments
// cascade via foreign keys.
func (s *TenantStore) Delete(ctx context.Context, tenantID uuid.UUID) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM tenants WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrTenantNotFound
	}

	log.Info().
		Str("tenant_id", tenantID.String()).
		Msg("Deleted tenant (and cascade-deleted owned resources)")

	return nil
}

// List returns all tenants.
func (s *TenantStore) List(ctx context.Context) ([]*models.Tenant, error) {
	return s.list(ctx, `
		SELECT tenant_id, name, account_id, api_token, created_at, updated_at
		FROM tenants
		ORDER BY created_at
	`)
}

// ListForAdmin returns the tenants that have the given user in their admin
// set.
func (s *TenantStore) ListForAdmin(ctx context.Context, userID string) ([]*models.Tenant, error) {
	return s.list(ctx, `
		SELECT t.tenant_id, t.name, t.account_id, t.api_token, t.created_at, t.updated_at
		FROM tenants t
		JOIN tenant_admins a ON a.tenant_id = t.tenant_id
		WHERE a.user_id = $1
		ORDER BY t.created_at
	`, userID)
}

func (s *TenantStore) list(ctx context.Context, query string, args ...any) ([]*models.Tenant, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		var tenant models.Tenant
		err := rows.Scan(
			&tenant.TenantID,
			&tenant.Name,
			&tenant.AccountID,
			&tenant.APIToken,
			&tenant.CreatedAt,
			&tenant.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, &tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}

	for _, tenant := range tenants {
		admins, err := s.loadAdmins(ctx, tenant.TenantID)
		if err != nil {
			return nil, err
		}
		tenant.AdminUserIDs = admins
	}

	return tenants, nil
}
