// Package cache holds the per-tenant in-memory mirror of remote resource
// state. The cache is advisory: the provider is always the source of truth,
// and entries are dropped, never merged, on invalidation.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tunnelkeep/tunnelkeep/internal/telemetry"
)

// Kind identifies a class of cached resource within a tenant.
type Kind string

const (
	KindZones   Kind = "zones"
	KindTunnels Kind = "tunnels"
	KindRecords Kind = "records"
)

// RecordsKind returns the zone-scoped record kind for a zone. Invalidating
// KindRecords drops every zone's record entries for the tenant.
func RecordsKind(zoneID string) Kind {
	return Kind(string(KindRecords) + "/" + zoneID)
}

// TunnelKind returns the tunnel-scoped kind for one tunnel's live state.
// Invalidating KindTunnels drops every tunnel's entries for the tenant.
func TunnelKind(tunnelID uuid.UUID) Kind {
	return Kind(string(KindTunnels) + "/" + tunnelID.String())
}

type cacheKey struct {
	tenantID uuid.UUID
	kind     Kind
}

type entry struct {
	data      any
	fetchedAt time.Time
}

// Cache is an arena keyed by (tenant, kind). Isolation between tenants is
// enforced by the key alone; no entry is ever shared or merged across
// tenants.
type Cache struct {
	mu sync.RWMutex

	maxAge  time.Duration // 0 disables age-based staleness
	entries map[cacheKey]entry
	metrics *telemetry.Metrics
}

// New creates an empty cache. Entries older than maxAge are reported as
// stale on Get; a zero maxAge means entries stay fresh until invalidated.
func New(maxAge time.Duration) *Cache {
	return &Cache{
		maxAge:  maxAge,
		entries: make(map[cacheKey]entry),
		metrics: telemetry.GetMetrics(),
	}
}

// Get returns the cached data for (tenant, kind) and whether it is fresh.
// A miss returns (nil, false); a stale hit returns the data with false so
// callers can choose to serve it while refreshing.
func (c *Cache) Get(tenantID uuid.UUID, kind Kind) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[cacheKey{tenantID: tenantID, kind: kind}]
	if !ok {
		c.metrics.CacheMissesTotal.Add(context.Background(), 1)
		return nil, false
	}

	fresh := c.maxAge == 0 || time.Since(e.fetchedAt) < c.maxAge
	if fresh {
		c.metrics.CacheHitsTotal.Add(context.Background(), 1)
	} else {
		c.metrics.CacheMissesTotal.Add(context.Background(), 1)
	}
	return e.data, fresh
}

// Put stores data for (tenant, kind) with the current timestamp.
func (c *Cache) Put(tenantID uuid.UUID, kind Kind, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey{tenantID: tenantID, kind: kind}] = entry{
		data:      data,
		fetchedAt: time.Now(),
	}
}

// Invalidate drops the entry for (tenant, kind), along with any entries
// whose kind is scoped under it (e.g. KindRecords covers every
// RecordsKind(zoneID) entry). Only the named tenant is affected.
func (c *Cache) Invalidate(tenantID uuid.UUID, kind Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := string(kind) + "/"
	for k := range c.entries {
		if k.tenantID != tenantID {
			continue
		}
		if k.kind == kind || strings.HasPrefix(string(k.kind), prefix) {
			delete(c.entries, k)
			c.metrics.CacheInvalidationsTotal.Add(context.Background(), 1)
		}
	}
}

// InvalidateAll drops every entry for a tenant. Used on tenant switch,
// explicit refresh, and tenant deletion.
func (c *Cache) InvalidateAll(tenantID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.entries {
		if k.tenantID == tenantID {
			delete(c.entries, k)
			c.metrics.CacheInvalidationsTotal.Add(context.Background(), 1)
		}
	}
}

// Lookup is a typed Get: it returns the cached value only if it is present,
// fresh, and of type T.
func Lookup[T any](c *Cache, tenantID uuid.UUID, kind Kind) (T, bool) {
	var zero T
	data, fresh := c.Get(tenantID, kind)
	if !fresh {
		return zero, false
	}
	typed, ok := data.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
