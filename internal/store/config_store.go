package store

import (
	"context"
	"errors"
)

// Sentinel errors for config store operations
var (
	ErrConfigNotFound = errors.New("config key not found")
)

// Well-known config keys.
const (
	// ConfigKeySuperAdmin holds the user ID of the system's super admin.
	// It is written exactly once, by the first-user bootstrap.
	ConfigKeySuperAdmin = "super_admin_id"
)

// ConfigStore is a small durable key/value store for system-level state.
// SetIfAbsent provides the compare-and-set needed for the one-time
// first-user-becomes-super-admin bootstrap.
type ConfigStore interface {
	// Get retrieves a config value.
	// Returns ErrConfigNotFound if the key has never been set.
	Get(ctx context.Context, key string) (string, error)

	// Set creates or replaces a config value.
	Set(ctx context.Context, key, value string) error

	// SetIfAbsent atomically sets the value only if the key is unset.
	// Returns true if this call performed the write.
	SetIfAbsent(ctx context.Context, key, value string) (bool, error)
}
