package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Reader returns read-only tenant snapshots.
type Reader interface {
	Get(ctx context.Context, tenantID string) (*Config, error)
}

// Writer persists tenant snapshots. Only the admin side uses it.
type Writer interface {
	Reader
	Set(ctx context.Context, cfg *Config) error
}

// Store provides Redis persistence for tenant configurations.
type Store struct {
	redis *redis.Client
}

// NewStore creates a new tenant config store.
func NewStore(redisClient *redis.Client) *Store {
	if redisClient == nil {
		panic("clinic: redis client required")
	}
	return &Store{redis: redisClient}
}

func (s *Store) key(tenantID string) string {
	return fmt.Sprintf("booking:tenant:%s:config", tenantID)
}

// Get retrieves the tenant config, returning ErrTenantNotFound when absent.
func (s *Store) Get(ctx context.Context, tenantID string) (*Config, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("clinic: get config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("clinic: unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Set validates and saves the tenant config.
func (s *Store) Set(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("clinic: marshal config: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(cfg.TenantID), data, 0).Err(); err != nil {
		return fmt.Errorf("clinic: set config: %w", err)
	}
	return nil
}

// MemoryStore keeps configs in process; used when Redis is not configured and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	configs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{configs: make(map[string][]byte)}
}

// Get returns a fresh copy so callers cannot mutate the stored snapshot.
func (m *MemoryStore) Get(_ context.Context, tenantID string) (*Config, error) {
	m.mu.RLock()
	data, ok := m.configs[tenantID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrTenantNotFound
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("clinic: unmarshal config: %w", err)
	}
	return &cfg, nil
}

func (m *MemoryStore) Set(_ context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("clinic: marshal config: %w", err)
	}
	m.mu.Lock()
	m.configs[cfg.TenantID] = data
	m.mu.Unlock()
	return nil
}
