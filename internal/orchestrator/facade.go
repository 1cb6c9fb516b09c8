// Package orchestrator is the entry point the transport layer calls. It
// sequences access control, session resolution, cache and gateway dispatch,
// and the tunnel lifecycle manager, and converts every error into a display
// payload at the boundary. Commands from distinct users run concurrently;
// commands from the same user are serialized by a per-user lock so a
// session is never mutated concurrently.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tunnelkeep/tunnelkeep/internal/auth"
	"github.com/tunnelkeep/tunnelkeep/internal/cache"
	"github.com/tunnelkeep/tunnelkeep/internal/cloudflare"
	"github.com/tunnelkeep/tunnelkeep/internal/models"
	"github.com/tunnelkeep/tunnelkeep/internal/store"
	"github.com/tunnelkeep/tunnelkeep/internal/telemetry"
	"github.com/tunnelkeep/tunnelkeep/internal/tunnel"
)

// Gateway is the full provider surface the facade depends on.
type Gateway interface {
	tunnel.Gateway

	VerifyToken(ctx context.Context, creds cloudflare.Credentials) error
	ListZones(ctx context.Context, creds cloudflare.Credentials) ([]cloudflare.Zone, error)
	ListRecords(ctx context.Context, creds cloudflare.Credentials, zoneID string) ([]cloudflare.DNSRecord, error)
	CreateRecord(ctx context.Context, creds cloudflare.Credentials, zoneID string, params cloudflare.RecordParams) (*cloudflare.DNSRecord, error)
	UpdateRecord(ctx context.Context, creds cloudflare.Credentials, zoneID, recordID string, params cloudflare.RecordParams) (*cloudflare.DNSRecord, error)
	DeleteRecord(ctx context.Context, creds cloudflare.Credentials, zoneID, recordID string) error
}

// Config wires the facade's collaborators.
type Config struct {
	Tenants  store.TenantStore
	Sessions store.SessionStore
	Tunnels  store.TunnelStore
	Groups   store.DomainGroupStore
	Config   store.ConfigStore
	Gateway  Gateway
	Cache    *cache.Cache
}

// Facade orchestrates the command set.
type Facade struct {
	tenants  store.TenantStore
	sessions store.SessionStore
	groups   store.DomainGroupStore
	authz    *auth.Authorizer
	gateway  Gateway
	tunnels  *tunnel.Manager
	cache    *cache.Cache
	metrics  *telemetry.Metrics

	mu        sync.Mutex
	userLocks map[string]*userLock
}

// userLock serializes one user's commands. It is reference counted so the
// lock map only holds entries for users with a command in flight.
type userLock struct {
	mu   sync.Mutex
	refs int
}

// New creates the facade and its lifecycle manager.
func New(cfg Config) *Facade {
	return &Facade{
		tenants:   cfg.Tenants,
		sessions:  cfg.Sessions,
		groups:    cfg.Groups,
		authz:     auth.NewAuthorizer(cfg.Tenants, cfg.Config),
		gateway:   cfg.Gateway,
		tunnels:   tunnel.NewManager(cfg.Tunnels, cfg.Gateway, cfg.Cache),
		cache:     cfg.Cache,
		metrics:   telemetry.GetMetrics(),
		userLocks: make(map[string]*userLock),
	}
}

// acquireLock takes the serialization lock for one user, creating it on
// first use. Locks are never held across users, so cross-tenant commands
// stay fully independent.
func (f *Facade) acquireLock(userID string) *userLock {
	f.mu.Lock()
	lock, ok := f.userLocks[userID]
	if !ok {
		lock = &userLock{}
		f.userLocks[userID] = lock
	}
	lock.refs++
	f.mu.Unlock()

	lock.mu.Lock()
	return lock
}

// releaseLock unlocks and drops the map entry once no command is waiting
// on it.
func (f *Facade) releaseLock(userID string, lock *userLock) {
	lock.mu.Unlock()

	f.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(f.userLocks, userID)
	}
	f.mu.Unlock()
}

// Handle processes one command for one user. It loads the user's session,
// runs the command against it, persists the updated session, and returns
// it with the display payload. On error the returned result still carries
// a displayable message; the error itself is for transports that map it to
// status codes.
func (f *Facade) Handle(ctx context.Context, userID string, cmd Command) (*models.Session, *Result, error) {
	if userID == "" {
		err := &AuthorizationError{Reason: "missing user identity"}
		return nil, &Result{Message: Display(err)}, err
	}

	lock := f.acquireLock(userID)
	defer f.releaseLock(userID, lock)

	f.metrics.CommandsTotal.Add(ctx, 1)

	session, err := f.sessions.Get(ctx, userID)
	if errors.Is(err, store.ErrSessionNotFound) {
		session = &models.Session{UserID: userID}
	} else if err != nil {
		return nil, &Result{Message: Display(err)}, err
	}

	result, err := f.execute(ctx, session, cmd)

	session.UpdatedAt = time.Now()
	if perr := f.sessions.Put(ctx, session); perr != nil {
		log.Error().Err(perr).Str("user_id", userID).Msg("failed to persist session")
	}

	if err != nil {
		f.metrics.CommandErrorsTotal.Add(ctx, 1)
		log.Debug().
			Str("user_id", userID).
			Str("command", string(cmd.Name)).
			Err(err).
			Msg("command failed")
		return session, &Result{Message: Display(err)}, err
	}

	log.Debug().
		Str("user_id", userID).
		Str("command", string(cmd.Name)).
		Msg("command handled")
	return session, result, nil
}

// authorize adapts access-control denials into the facade error taxonomy.
func (f *Facade) authorize(ctx context.Context, userID string, action auth.Action, tenantID *uuid.UUID) error {
	err := f.authz.Authorize(ctx, userID, action, tenantID)
	var denied *auth.DeniedError
	if errors.As(err, &denied) {
		return &AuthorizationError{Reason: denied.Reason}
	}
	return err
}

// activeTenant resolves the session's active tenant. A dangling reference
// to a deleted tenant clears the session scratch state and surfaces a
// stale-reference error.
func (f *Facade) activeTenant(ctx context.Context, session *models.Session) (*models.Tenant, error) {
	if session.ActiveTenantID == nil {
		return nil, &UsageError{Reason: "No tenant selected. Use switch-tenant first."}
	}

	tenant, err := f.tenants.Get(ctx, *session.ActiveTenantID)
	if errors.Is(err, store.ErrTenantNotFound) {
		session.Reset()
		return nil, &StaleReferenceError{Kind: "tenant"}
	}
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// resolveTunnelID picks the target tunnel: an explicit ID wins, otherwise
// the session's active tunnel.
func resolveTunnelID(session *models.Session, cmd Command) (uuid.UUID, error) {
	if cmd.TunnelID != nil {
		return *cmd.TunnelID, nil
	}
	if session.ActiveTunnelID != nil {
		return *session.ActiveTunnelID, nil
	}
	return uuid.Nil, &UsageError{Reason: "No tunnel selected. Pass a tunnel ID or create one first."}
}
