package memory

import (
	"context"
	"sync"

	"github.com/tunnelkeep/tunnelkeep/internal/models"
	"github.com/tunnelkeep/tunnelkeep/internal/store"
)

// SessionStore implements store.SessionStore using in-memory storage.
type SessionStore struct {
	mu sync.RWMutex

	sessions map[string]*models.Session // user_id -> Session
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*models.Session),
	}
}

func cloneSession(s *models.Session) *models.Session {
	clone := *s
	if s.ActiveTenantID != nil {
		id := *s.ActiveTenantID
		clone.ActiveTenantID = &id
	}
	if s.ActiveTunnelID != nil {
		id := *s.ActiveTunnelID
		clone.ActiveTunnelID = &id
	}
	return &clone
}

// Get retrieves the session for a user.
func (s *SessionStore) Get(ctx context.Context, userID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[userID]
	if !exists {
		return nil, store.ErrSessionNotFound
	}

	return cloneSession(session), nil
}

// Put creates or replaces the session for session.UserID.
func (s *SessionStore) Put(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.UserID] = cloneSession(session)
	return nil
}

// Delete removes a user's session.
func (s *SessionStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[userID]; !exists {
		return store.ErrSessionNotFound
	}

	delete(s.sessions, userID)
	return nil
}
