// Package api is the local view API: the HTTP and WebSocket surface
// presentation consumers read the agent's state through.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/pulse-agent/internal/backend"
	"github.com/pulse-agent/internal/holdings"
	"github.com/pulse-agent/internal/logging"
	"github.com/pulse-agent/internal/syncer"
)

// Orchestrator is the slice of the sync orchestrator the API exposes.
type Orchestrator interface {
	Snapshot() syncer.Snapshot
	TriggerSync() error
}

// SummaryProvider fetches the backend's dashboard summary.
type SummaryProvider interface {
	Summary(ctx context.Context) (*backend.Summary, error)
}

// Config holds view API server configuration.
type Config struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server serves the local view API.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	hub        *Hub
	orch       Orchestrator
	summaries  SummaryProvider
	cache      *holdings.Cache
	logger     *logrus.Entry
}

// NewServer creates a view API server over the orchestrator, the holdings
// cache, and the backend summary.
func NewServer(cfg Config, orch Orchestrator, cache *holdings.Cache, summaries SummaryProvider, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	entry := logging.WithComponent(logger, "api")
	s := &Server{
		router:    mux.NewRouter(),
		hub:       NewHub(logger),
		orch:      orch,
		summaries: summaries,
		cache:     cache,
		logger:    entry,
	}

	s.setupRouter(cfg)
	return s
}

// setupRouter configures middleware and routes. Order matters: logging
// first, recovery inside it so panics are still logged as requests.
func (s *Server) setupRouter(cfg Config) {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sync", s.handleSyncState).Methods("GET")
	api.HandleFunc("/sync/refresh", s.handleRefresh).Methods("POST")
	api.HandleFunc("/portfolio", s.handlePortfolio).Methods("GET")
	api.HandleFunc("/summary", s.handleSummary).Methods("GET")

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// Start runs the hub and serves until Shutdown.
func (s *Server) Start() error {
	go s.hub.run()
	s.logger.WithField("addr", s.httpServer.Addr).Info("View API listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections, drains in-flight requests, and
// closes every WebSocket client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down view API")
	err := s.httpServer.Shutdown(ctx)
	s.hub.stop()
	return err
}

// BroadcastSyncState pushes a sync snapshot to every connected view.
// Wire it to the orchestrator's OnStateChange.
func (s *Server) BroadcastSyncState(snap syncer.Snapshot) {
	s.hub.broadcastJSON(syncStateEvent{Type: "sync_state", Snapshot: snap})
}

// BroadcastHoldingsUpdated tells views to re-fetch the portfolio. Wire it
// to the orchestrator's OnDataRefreshed, after the cache refresh.
func (s *Server) BroadcastHoldingsUpdated() {
	s.hub.broadcastJSON(holdingsUpdatedEvent{Type: "holdings_updated", UpdatedAt: time.Now().UTC()})
}

type syncStateEvent struct {
	Type string `json:"type"`
	syncer.Snapshot
}

type holdingsUpdatedEvent struct {
	Type      string    `json:"type"`
	UpdatedAt time.Time `json:"updated_at"`
}
