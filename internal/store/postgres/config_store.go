package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tunnelkeep/tunnelkeep/internal/store"
)

// ConfigStore implements store.ConfigStore using PostgreSQL. SetIfAbsent
// relies on INSERT ... ON CONFLICT DO NOTHING, which makes the first-user
// bootstrap a genuine compare-and-set across processes.
type ConfigStore struct {
	pool *pgxpool.Pool
}

// NewConfigStore creates a new PostgreSQL-backed config store.
func NewConfigStore(pool *pgxpool.Pool) *ConfigStore {
	return &ConfigStore{
		pool: pool,
	}
}

// Get retrieves a config value.
func (s *ConfigStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM config WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrConfigNotFound
		}
		return "", fmt.Errorf("failed to get config value: %w", err)
	}
	return value, nil
}

// Set creates or replaces a config value.
func (s *ConfigStore) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO config (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set config value: %w", err)
	}
	return nil
}

// SetIfAbsent atomically sets the value only if the key is unset. Returns
// true if this call performed the write.
func (s *ConfigStore) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	result, err := s.pool.Exec(ctx, `
		INSERT INTO config (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING
	`, key, value)
	if err != nil {
		return false, fmt.Errorf("failed to set config value: %w", err)
	}
	return result.RowsAffected() > 0, nil
}
