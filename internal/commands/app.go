package commands

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/pulse-agent/internal/backend"
	"github.com/pulse-agent/internal/config"
	"github.com/pulse-agent/internal/logging"
	"github.com/pulse-agent/internal/session"
	"github.com/pulse-agent/internal/statestore"
	"github.com/pulse-agent/internal/transport"
)

// app is the wired client stack every command runs on: config, logging,
// the state store, the session, and the authenticated backend client.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	store    statestore.Store
	sessions *session.Manager
	client   *backend.Client
}

// setupApp composes the stack bottom-up. Callers own Close.
func setupApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	store, err := statestore.Open(&cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	sessions, err := session.NewManager(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	authTransport, err := transport.New(transport.Config{
		Session:        sessions,
		RequestsPerSec: cfg.Backend.RequestsPerSec,
		Logger:         logger,
		OnAuthExpired: func() {
			logger.Warn("Session expired; run \"pulse-agent login\" to sign in again")
		},
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		HTTPClient: &http.Client{
			Transport: authTransport,
			Timeout:   cfg.Backend.Timeout,
		},
		Logger: logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	authTransport.SetRefresher(client)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		sessions: sessions,
		client:   client,
	}, nil
}

// Close releases the state store.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close state store")
	}
}

// requireLogin fails fast for commands that need an authenticated session.
func (a *app) requireLogin() error {
	if !a.sessions.LoggedIn() {
		return fmt.Errorf("not logged in; run \"pulse-agent login\" first")
	}
	return nil
}
