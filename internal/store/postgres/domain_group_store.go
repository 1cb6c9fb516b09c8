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

// DomainGroupStore implements store.DomainGroupStore using PostgreSQL.
type DomainGroupStore struct {
	pool *pgxpool.Pool
}

// NewDomainGroupStore creates a new PostgreSQL-backed domain group store.
func NewDomainGroupStore(pool *pgxpool.Pool) *DomainGroupStore {
	return &DomainGroupStore{
		pool: pool,
	}
}

// Create creates a new domain group.
func (s *DomainGroupStore) Create(ctx context.Context, group *models.DomainGroup) error {
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	_, err = tx.Exec(ctx, `
		INSERT INTO domain_groups (group_id, tenant_id, name, created_at)
		VALUES ($1, $2, $3, $4)
	`,
		group.GroupID,
		group.TenantID,
		group.Name,
		group.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDomainGroupAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return store.ErrTenantNotFound
		}
		return fmt.Errorf("failed to create domain group: %w", err)
	}

	if err := insertGroupDomains(ctx, tx, group.GroupID, group.Domains); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit domain group create: %w", err)
	}

	log.Debug().
		Str("group_id", group.GroupID.String()).
		Str("name", group.Name).
		Msg("Created domain group")

	return nil
}

// Get retrieves a domain group by ID.
func (s *DomainGroupStore) Get(ctx context.Context, groupID uuid.UUID) (*models.DomainGroup, error) {
	query := `
		SELECT group_id, tenant_id, name, created_at
		FROM domain_groups
		WHERE group_id = $1
	`

	var group models.DomainGroup
	err := s.pool.QueryRow(ctx, query, groupID).Scan(
		&group.GroupID,
		&group.TenantID,
		&group.Name,
		&group.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrDomainGroupNotFound
		}
		return nil, fmt.Errorf("failed to get domain group: %w", err)
	}

	domains, err := s.loadDomains(ctx, group.GroupID)
	if err != nil {
		return nil, err
	}
	group.Domains = domains

	return &group, nil
}

func (s *DomainGroupStore) loadDomains(ctx context.Context, groupID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT domain FROM domain_group_members WHERE group_id = $1 ORDER BY domain
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group domains: %w", err)
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return nil, fmt.Errorf("failed to scan group domain: %w", err)
		}
		domains = append(domains, domain)
	}
	return domains, rows.Err()
}

// Update replaces a domain group and its member set.
func (s *DomainGroupStore) Update(ctx context.Context, group *models.DomainGroup) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	result, err := tx.Exec(ctx, `
		UPDATE domain_groups SET name = $2 WHERE group_id = $1
	`, group.GroupID, group.Name)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDomainGroupAlreadyExists
		}
		return fmt.Errorf("failed to update domain group: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrDomainGroupNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM domain_group_members WHERE group_id = $1`, group.GroupID); err != nil {
		return fmt.Errorf("failed to clear group domains: %w", err)
	}
	if err := insertGroupDomains(ctx, tx, group.GroupID, group.Domains); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit domain group update: %w", err)
	}

	return nil
}

func insertGroupDomains(ctx context.Context, tx pgx.Tx, groupID uuid.UUID, domains []string) error {
	for _, domain := range domains {
		_, err := tx.Exec(ctx, `
			INSERT INTO domain_group_members (group_id, domain) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, groupID, domain)
		if err != nil {
			return fmt.Errorf("failed to insert group domain: %w", err)
		}
	}
	return nil
}

// Delete removes a domain group. Members cascade.
func (s *DomainGroupStore) Delete(ctx context.Context, groupID uuid.UUID) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM domain_groups WHERE group_id = $1`, groupID)
	if err != nil {
		return fmt.Errorf("failed to delete domain group: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrDomainGroupNotFound
	}
	return nil
}

// ListByTenant returns all domain groups owned by a tenant.
func (s *DomainGroupStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.DomainGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT group_id, tenant_id, name, created_at
		FROM domain_groups
		WHERE tenant_id = $1
		ORDER BY created_at
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list domain groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.DomainGroup
	for rows.Next() {
		var group models.DomainGroup
		err := rows.Scan(
			&group.GroupID,
			&group.TenantID,
			&group.Name,
			&group.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan domain group: %w", err)
		}
		groups = append(groups, &group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating domain groups: %w", err)
	}

	for _, group := range groups {
		domains, err := s.loadDomains(ctx, group.GroupID)
		if err != nil {
			return nil, err
		}
		group.Domains = domains
	}

	return groups, nil
}

// DeleteByTenant removes all groups owned by a tenant.
func (s *DomainGroupStore) DeleteByTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM domain_groups WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete domain groups by tenant: %w", err)
	}
	return int(result.RowsAffected()), nil
}
