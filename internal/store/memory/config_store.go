package memory

import (
	"context"
	"sync"

	"github.com/tunnelkeep/tunnelkeep/internal/store"
)

// ConfigStore implements store.ConfigStore using in-memory storage.
type ConfigStore struct {
	mu sync.Mutex

	values map[string]string
}

// NewConfigStore creates a new in-memory config store.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		values: make(map[string]string),
	}
}

// Get retrieves a config value.
func (s *ConfigStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, exists := s.values[key]
	if !exists {
		return "", store.ErrConfigNotFound
	}
	return value, nil
}

// Set creates or replaces a config value.
func (s *ConfigStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

// SetIfAbsent atomically sets the value only if the key is unset.
func (s *ConfigStore) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.values[key]; exists {
		return false, nil
	}
	s.values[key] = value
	return true, nil
}
