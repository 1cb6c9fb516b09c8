package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tunnelkeep/tunnelkeep/internal/auth"
	"github.com/tunnelkeep/tunnelkeep/internal/cache"
	"github.com/tunnelkeep/tunnelkeep/internal/cloudflare"
	"github.com/tunnelkeep/tunnelkeep/internal/httpapi"
	"github.com/tunnelkeep/tunnelkeep/internal/logger"
	"github.com/tunnelkeep/tunnelkeep/internal/models"
	"github.com/tunnelkeep/tunnelkeep/internal/orchestrator"
	"github.com/tunnelkeep/tunnelkeep/internal/secrets"
	"github.com/tunnelkeep/tunnelkeep/internal/store"
	memorystore "github.com/tunnelkeep/tunnelkeep/internal/store/memory"
	postgresstore "github.com/tunnelkeep/tunnelkeep/internal/store/postgres"
	"github.com/tunnelkeep/tunnelkeep/internal/telemetry"
	"gopkg.in/yaml.v3"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"TUNNELKEEP_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"TUNNELKEEP_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"TUNNELKEEP_TLS_KEY"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"https://localhost" env:"TUNNELKEEP_CORS_ORIGINS"`

	// Identity configuration
	JWTSecret string `help:"HMAC secret for verifying bearer tokens" env:"TUNNELKEEP_JWT_SECRET"`

	// Operational modes
	Telemetry bool `help:"enable OTLP metrics export" default:"false" env:"TUNNELKEEP_TELEMETRY"`

	// Cache configuration
	CacheMaxAge time.Duration `help:"max age of cached provider reads" default:"10m" env:"TUNNELKEEP_CACHE_MAX_AGE"`

	// Tenant seed configuration
	SeedFile string `help:"YAML file of tenants to register on startup" default:"" env:"TUNNELKEEP_SEED_FILE"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"TUNNELKEEP_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"TUNNELKEEP_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) Validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := context.Background()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if len(c.JWTSecret) < 32 {
		return errors.New("JWT secret must be at least 32 bytes (--jwt-secret or TUNNELKEEP_JWT_SECRET)")
	}

	if c.Telemetry {
		shutdown, err := telemetry.InitTelemetry(ctx, "tunnelkeep-server", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	stores, err := c.createStores(ctx, log)
	if err != nil {
		return err
	}

	gateway := cloudflare.New()

	facade := orchestrator.New(orchestrator.Config{
		Tenants:  stores.tenants,
		Sessions: stores.sessions,
		Tunnels:  stores.tunnels,
		Groups:   stores.groups,
		Config:   stores.config,
		Gateway:  gateway,
		Cache:    cache.New(c.CacheMaxAge),
	})

	if c.SeedFile != "" {
		if err := seedTenants(ctx, log, c.SeedFile, stores.tenants, gateway); err != nil {
			return fmt.Errorf("failed to seed tenants: %w", err)
		}
	}

	verifier, err := auth.NewTokenVerifier([]byte(c.JWTSecret))
	if err != nil {
		return fmt.Errorf("failed to create token verifier: %w", err)
	}

	handler := httpapi.NewServer(facade, verifier).Handler(c.CORSOrigins)

	if c.Cert != "" && c.Key != "" {
		if _, err := os.Stat(c.Cert); err != nil {
			return fmt.Errorf("TLS certificate not found at %s: %w", c.Cert, err)
		}
		if _, err := os.Stat(c.Key); err != nil {
			return fmt.Errorf("TLS key not found at %s: %w", c.Key, err)
		}
		log.Info().Str("addr", c.Listen).Msg("Starting HTTPS server")
		return configureHTTPServer(c.Listen, handler).ListenAndServeTLS(c.Cert, c.Key)
	}

	log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
	return configureHTTPServer(c.Listen, handler).ListenAndServe()
}

type storeSet struct {
	tenants  store.TenantStore
	sessions store.SessionStore
	tunnels  store.TunnelStore
	groups   store.DomainGroupStore
	config   store.ConfigStore
}

func (c *ServerCmd) createStores(ctx context.Context, log zerolog.Logger) (*storeSet, error) {
	switch c.StoreType {
	case "postgres":
		if err := c.PostgresStore.Validate(); err != nil {
			return nil, err
		}
		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
			AutoMigrate:     c.PostgresStore.AutoMigrate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create store pool: %w", err)
		}
		log.Info().Msg("Using PostgreSQL stores")
		return &storeSet{
			tenants:  postgresstore.NewTenantStore(pool),
			sessions: postgresstore.NewSessionStore(pool),
			tunnels:  postgresstore.NewTunnelStore(pool),
			groups:   postgresstore.NewDomainGroupStore(pool),
			config:   postgresstore.NewConfigStore(pool),
		}, nil

	default:
		log.Info().Msg("Using in-memory stores")
		return &storeSet{
			tenants:  memorystore.NewTenantStore(),
			sessions: memorystore.NewSessionStore(),
			tunnels:  memorystore.NewTunnelStore(),
			groups:   memorystore.NewDomainGroupStore(),
			config:   memorystore.NewConfigStore(),
		}, nil
	}
}

type seedTenant struct {
	Name      string   `yaml:"name"`
	AccountID string   `yaml:"account_id"`
	APIToken  string   `yaml:"api_token"`
	Admins    []string `yaml:"admins"`
}

type seedFile struct {
	Tenants []seedTenant `yaml:"tenants"`
}

type tokenProbe interface {
	VerifyToken(ctx context.Context, creds cloudflare.Credentials) error
}

// seedTenants registers tenants from a YAML file on startup. Existing
// tenants are left untouched; each new tenant's token is probe-verified
// before it is persisted.
func seedTenants(ctx context.Context, log zerolog.Logger, path string, tenants store.TenantStore, gateway tokenProbe) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}

	for _, entry := range seed.Tenants {
		if entry.Name == "" || entry.AccountID == "" || entry.APIToken == "" {
			return fmt.Errorf("seed tenant %q is missing name, account_id or api_token", entry.Name)
		}

		if _, err := tenants.GetByName(ctx, entry.Name); err == nil {
			log.Debug().Str("tenant", entry.Name).Msg("Seed tenant already exists, skipping")
			continue
		} else if !errors.Is(err, store.ErrTenantNotFound) {
			return err
		}

		creds := cloudflare.Credentials{APIToken: entry.APIToken, AccountID: entry.AccountID}
		if err := gateway.VerifyToken(ctx, creds); err != nil {
			return fmt.Errorf("token for seed tenant %q failed verification: %w", entry.Name, err)
		}

		now := time.Now().UTC()
		tenant := &models.Tenant{
			TenantID:     uuid.New(),
			Name:         entry.Name,
			AccountID:    entry.AccountID,
			APIToken:     entry.APIToken,
			AdminUserIDs: entry.Admins,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tenants.Create(ctx, tenant); err != nil {
			return fmt.Errorf("failed to create seed tenant %q: %w", entry.Name, err)
		}

		log.Info().
			Str("tenant", entry.Name).
			Str("tenant_id", tenant.TenantID.String()).
			Str("token", secrets.Fingerprint(entry.APIToken)).
			Msg("Seed tenant registered")
	}

	return nil
}
