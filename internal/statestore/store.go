// Package statestore persists the agent's durable client-side state:
// session tokens and sync hints that must survive restarts. The store is a
// small string key-value surface with pluggable backends.
package statestore

import (
	"context"
	"fmt"

	"github.com/pulse-agent/internal/config"
)

// Keys used by the agent. Values are strings; timestamps are RFC3339.
const (
	KeyAccessToken  = "auth.access_token"
	KeyRefreshToken = "auth.refresh_token"
	KeyLastSyncTime = "sync.last_sync_time"
	KeySyncInterval = "sync.auto_sync_interval"
)

// Store is a durable key-value store for agent state.
type Store interface {
	// Get returns the value for key and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key, value string) error

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}

// Open constructs the store selected by cfg.Backend.
func Open(cfg *config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "sqlite", "":
		return NewSQLiteStore(cfg.SQLitePath)
	case "redis":
		return NewRedisStore(&cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}
