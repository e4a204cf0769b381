// Package session owns the agent's login session: the bearer token pair
// and the cached sync hints shown before the backend has answered.
package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pulse-agent/internal/statestore"
)

// Credentials is the token pair issued by the backend.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Hints are cached sync facts for startup display: the last confirmed sync
// time and the server's auto-sync interval. They are hints only; the
// server's sync-status response is authoritative once it arrives.
type Hints struct {
	LastSync time.Time
	Interval time.Duration
}

// Manager caches credentials in memory and writes through to the store.
// The in-memory pair is authoritative for outbound requests: both tokens
// swap under one lock, so a reader never observes a half-rotated pair.
type Manager struct {
	store statestore.Store

	mu    sync.RWMutex
	creds Credentials
}

// NewManager creates a manager and loads any persisted credentials.
func NewManager(ctx context.Context, store statestore.Store) (*Manager, error) {
	access, _, err := store.Get(ctx, statestore.KeyAccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to load access token: %w", err)
	}
	refresh, _, err := store.Get(ctx, statestore.KeyRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}

	return &Manager{
		store: store,
		creds: Credentials{AccessToken: access, RefreshToken: refresh},
	}, nil
}

// Credentials returns the current token pair
func (m *Manager) Credentials() Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds
}

// AccessToken returns the current access token, empty when logged out
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds.AccessToken
}

// RefreshToken returns the current refresh token
func (m *Manager) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds.RefreshToken
}

// LoggedIn reports whether an access token is present
func (m *Manager) LoggedIn() bool {
	return m.AccessToken() != ""
}

// SetCredentials replaces both tokens atomically and persists them.
func (m *Manager) SetCredentials(ctx context.Context, creds Credentials) error {
	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()

	if err := m.store.Set(ctx, statestore.KeyAccessToken, creds.AccessToken); err != nil {
		return fmt.Errorf("failed to persist access token: %w", err)
	}
	if err := m.store.Set(ctx, statestore.KeyRefreshToken, creds.RefreshToken); err != nil {
		return fmt.Errorf("failed to persist refresh token: %w", err)
	}
	return nil
}

// Clear wipes both tokens from memory and the store. Called on logout and
// when a token refresh fails terminally.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.creds = Credentials{}
	m.mu.Unlock()

	return m.store.Delete(ctx, statestore.KeyAccessToken, statestore.KeyRefreshToken)
}

// SaveHints persists the sync hints. Zero fields are skipped so a partial
// update never erases the other hint.
func (m *Manager) SaveHints(ctx context.Context, h Hints) error {
	if !h.LastSync.IsZero() {
		value := h.LastSync.UTC().Format(time.RFC3339)
		if err := m.store.Set(ctx, statestore.KeyLastSyncTime, value); err != nil {
			return fmt.Errorf("failed to persist last sync time: %w", err)
		}
	}
	if h.Interval > 0 {
		value := strconv.Itoa(int(h.Interval.Seconds()))
		if err := m.store.Set(ctx, statestore.KeySyncInterval, value); err != nil {
			return fmt.Errorf("failed to persist sync interval: %w", err)
		}
	}
	return nil
}

// LoadHints returns the cached sync hints. Unset or unparseable values
// come back as zero: the caller falls back to server data.
func (m *Manager) LoadHints(ctx context.Context) Hints {
	var h Hints

	if raw, ok, err := m.store.Get(ctx, statestore.KeyLastSyncTime); err == nil && ok {
		if ts, parseErr := time.Parse(time.RFC3339, raw); parseErr == nil {
			h.LastSync = ts
		}
	}
	if raw, ok, err := m.store.Get(ctx, statestore.KeySyncInterval); err == nil && ok {
		if secs, parseErr := strconv.Atoi(raw); parseErr == nil && secs > 0 {
			h.Interval = time.Duration(secs) * time.Second
		}
	}

	return h
}
