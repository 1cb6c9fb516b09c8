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

// TunnelStore implements store.TunnelStore using PostgreSQL. Hostnames and
// network routes are child rows rewritten on every update: they mirror the
// last pushed configuration document, which is replaced whole anyway.
type TunnelStore struct {
	pool *pgxpool.Pool
}

// NewTunnelStore creates a new PostgreSQL-backed tunnel store.
func NewTunnelStore(pool *pgxpool.Pool) *TunnelStore {
	return &TunnelStore{
		pool: pool,
	}
}

// Create creates a new tunnel record.
func (s *TunnelStore) Create(ctx context.Context, tunnel *models.Tunnel) error {
	if tunnel.CreatedAt.IsZero() {
		tunnel.CreatedAt = time.Now()
	}
	tunnel.UpdatedAt = tunnel.CreatedAt

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	_, err = tx.Exec(ctx, `
		INSERT INTO tunnels (
			tunnel_id, tenant_id, remote_id, name, secret,
			status, failed_step, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`,
		tunnel.TunnelID,
		tunnel.TenantID,
		tunnel.RemoteID,
		tunnel.Name,
		tunnel.Secret,
		tunnel.Status,
		tunnel.FailedStep,
		tunnel.CreatedAt,
		tunnel.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrTunnelAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return store.ErrTenantNotFound
		}
		return fmt.Errorf("failed to create tunnel: %w", err)
	}

	if err := insertConfig(ctx, tx, tunnel); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit tunnel create: %w", err)
	}

	log.Debug().
		Str("tunnel_id", tunnel.TunnelID.String()).
		Str("tenant_id", tunnel.TenantID.String()).
		Str("name", tunnel.Name).
		Msg("Created tunnel")

	return nil
}

// Get retrieves a tunnel by ID.
func (s *TunnelStore) Get(ctx context.Context, tunnelID uuid.UUID) (*models.Tunnel, error) {
	query := `
		SELECT tunnel_id, tenant_id, remote_id, name, secret,
			status, failed_step, created_at, updated_at
		FROM tunnels
		WHERE tunnel_id = $1
	`

	var tunnel models.Tunnel
	err := s.pool.QueryRow(ctx, query, tunnelID).Scan(
		&tunnel.TunnelID,
		&tunnel.TenantID,
		&tunnel.RemoteID,
		&tunnel.Name,
		&tunnel.Secret,
		&tunnel.Status,
		&tunnel.FailedStep,
		&tunnel.CreatedAt,
		&tunnel.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrTunnelNotFound
		}
		return nil, fmt.Errorf("failed to get tunnel: %w", err)
	}

	if err := s.loadConfig(ctx, &tunnel); err != nil {
		return nil, err
	}

	return &tunnel, nil
}

func (s *TunnelStore) loadConfig(ctx context.Context, tunnel *models.Tunnel) error {
	rows, err := s.pool.Query(ctx, `
		SELECT subdomain, service_url FROM tunnel_hostnames
		WHERE tunnel_id = $1 ORDER BY position
	`, tunnel.TunnelID)
	if err != nil {
		return fmt.Errorf("failed to load tunnel hostnames: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h models.PublicHostname
		if err := rows.Scan(&h.Subdomain, &h.ServiceURL); err != nil {
			return fmt.Errorf("failed to scan tunnel hostname: %w", err)
		}
		tunnel.Hostnames = append(tunnel.Hostnames, h)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	netRows, err := s.pool.Query(ctx, `
		SELECT cidr FROM tunnel_networks
		WHERE tunnel_id = $1 ORDER BY position
	`, tunnel.TunnelID)
	if err != nil {
		return fmt.Errorf("failed to load tunnel networks: %w", err)
	}
	defer netRows.Close()

	for netRows.Next() {
		var n models.PrivateNetworkRoute
		if err := netRows.Scan(&n.CIDR); err != nil {
			return fmt.Errorf("failed to scan tunnel network: %w", err)
		}
		tunnel.Networks = append(tunnel.Networks, n)
	}
	return netRows.Err()
}

// Update replaces a tunnel record and its configuration rows.
func (s *TunnelStore) Update(ctx context.Context, tunnel *models.Tunnel) error {
	tunnel.UpdatedAt = time.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	result, err := tx.Exec(ctx, `
		UPDATE tunnels SET
			remote_id = $2,
			name = $3,
			secret = $4,
			status = $5,
			failed_step = $6,
			updated_at = $7
		WHERE tunnel_id = $1
	`,
		tunnel.TunnelID,
		tunnel.RemoteID,
		tunnel.Name,
		tunnel.Secret,
		tunnel.Status,
		tunnel.FailedStep,
		tunnel.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update tunnel: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrTunnelNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM tunnel_hostnames WHERE tunnel_id = $1`, tunnel.TunnelID); err != nil {
		return fmt.Errorf("failed to clear tunnel hostnames: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM tunnel_networks WHERE tunnel_id = $1`, tunnel.TunnelID); err != nil {
		return fmt.Errorf("failed to clear tunnel networks: %w", err)
	}
	if err := insertConfig(ctx, tx, tunnel); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit tunnel update: %w", err)
	}

	log.Debug().
		Str("tunnel_id", tunnel.TunnelID.String()).
		Str("status", string(tunnel.Status)).
		Msg("Updated tunnel")

	return nil
}

func insertConfig(ctx context.Context, tx pgx.Tx, tunnel *models.Tunnel) error {
	for i, h := range tunnel.Hostnames {
		_, err := tx.Exec(ctx, `
			INSERT INTO tunnel_hostnames (tunnel_id, position, subdomain, service_url)
			VALUES ($1, $2, $3, $4)
		`, tunnel.TunnelID, i, h.Subdomain, h.ServiceURL)
		if err != nil {
			return fmt.Errorf("failed to insert tunnel hostname: %w", err)
		}
	}
	for i, n := range tunnel.Networks {
		_, err := tx.Exec(ctx, `
			INSERT INTO tunnel_networks (tunnel_id, position, cidr)
			VALUES ($1, $2, $3)
		`, tunnel.TunnelID, i, n.CIDR)
		if err != nil {
			return fmt.Errorf("failed to insert tunnel network: %w", err)
		}
	}
	return nil
}

// Delete removes a tunnel record. Configuration rows cascade.
func (s *TunnelStore) Delete(ctx context.Context, tunnelID uuid.UUID) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM tunnels WHERE tunnel_id = $1`, tunnelID)
	if err != nil {
		return fmt.Errorf("failed to delete tunnel: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrTunnelNotFound
	}

	log.Debug().
		Str("tunnel_id", tunnelID.String()).
		Msg("Deleted tunnel")

	return nil
}

// ListByTenant returns all tunnels owned by a tenant.
func (s *TunnelStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Tunnel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tunnel_id, tenant_id, remote_id, name, secret,
			status, failed_step, created_at, updated_at
		FROM tunnels
		WHERE tenant_id = $1
		ORDER BY created_at
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tunnels: %w", err)
	}
	defer rows.Close()

	var tunnels []*models.Tunnel
	for rows.Next() {
		var tunnel models.Tunnel
		err := rows.Scan(
			&tunnel.TunnelID,
			&tunnel.TenantID,
			&tunnel.RemoteID,
			&tunnel.Name,
			&tunnel.Secret,
			&tunnel.Status,
			&tunnel.FailedStep,
			&tunnel.CreatedAt,
			&tunnel.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tunnel: %w", err)
		}
		tunnels = append(tunnels, &tunnel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tunnels: %w", err)
	}

	for _, tunnel := range tunnels {
		if err := s.loadConfig(ctx, tunnel); err != nil {
			return nil, err
		}
	}

	return tunnels, nil
}

// DeleteByTenant removes all tunnels owned by a tenant.
func (s *TunnelStore) DeleteByTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM tunnels WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tunnels by tenant: %w", err)
	}

	count := int(result.RowsAffected())
	if count > 0 {
		log.Info().
			Str("tenant_id", tenantID.String()).
			Int("count", count).
			Msg("Deleted all tunnels for tenant")
	}

	return count, nil
}
