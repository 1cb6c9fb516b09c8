package store

import (
	"context"
	"errors"

	"github.com/tunnelkeep/tunnelkeep/internal/models"
)

// Sentinel errors for session store operations
var (
	ErrSessionNotFound = errors.New("session not found")
)

// SessionStore persists per-user interaction state. Sessions are keyed by
// the external user identity; there is at most one session per user.
type SessionStore interface {
	// Get retrieves the session for a user.
	// Returns ErrSessionNotFound if the user has no session yet.
	Get(ctx context.Context, userID string) (*models.Session, error)

	// Put creates or replaces the session for session.UserID.
	Put(ctx context.Context, session *models.Session) error

	// Delete removes a user's session.
	// Returns ErrSessionNotFound if the user has no session.
	Delete(ctx context.Context, userID string) error
}
