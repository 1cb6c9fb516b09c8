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

// SessionStore implements store.SessionStore using PostgreSQL. One row per
// user; Put is an upsert.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new PostgreSQL-backed session store.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{
		pool: pool,
	}
}

// Get retrieves the session for a user.
func (s *SessionStore) Get(ctx context.Context, userID string) (*models.Session, error) {
	query := `
		SELECT user_id, active_tenant_id, active_tunnel_id,
			pending_kind, pending_tunnel_id, updated_at
		FROM sessions
		WHERE user_id = $1
	`

	var session models.Session
	var pendingKind string
	var pendingTunnelID *uuid.UUID
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&session.UserID,
		&session.ActiveTenantID,
		&session.ActiveTunnelID,
		&pendingKind,
		&pendingTunnelID,
		&session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session.Pending.Kind = models.PendingKind(pendingKind)
	if pendingTunnelID != nil {
		session.Pending.TunnelID = *pendingTunnelID
	}

	return &session, nil
}

// Put creates or replaces the session for session.UserID.
func (s *SessionStore) Put(ctx context.Context, session *models.Session) error {
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = time.Now()
	}

	var pendingTunnelID *uuid.UUID
	if session.Pending.Kind != models.PendingNone {
		id := session.Pending.TunnelID
		pendingTunnelID = &id
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (
			user_id, active_tenant_id, active_tunnel_id,
			pending_kind, pending_tunnel_id, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		ON CONFLICT (user_id) DO UPDATE SET
			active_tenant_id = EXCLUDED.active_tenant_id,
			active_tunnel_id = EXCLUDED.active_tunnel_id,
			pending_kind = EXCLUDED.pending_kind,
			pending_tunnel_id = EXCLUDED.pending_tunnel_id,
			updated_at = EXCLUDED.updated_at
	`,
		session.UserID,
		session.ActiveTenantID,
		session.ActiveTunnelID,
		string(session.Pending.Kind),
		pendingTunnelID,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put session: %w", err)
	}

	log.Debug().
		Str("user_id", session.UserID).
		Msg("Stored session")

	return nil
}

// Delete removes a user's session.
func (s *SessionStore) Delete(ctx context.Context, userID string) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}

	log.Debug().
		Str("user_id", userID).
		Msg("Deleted session")

	return nil
}
