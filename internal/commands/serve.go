package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulse-agent/internal/api"
	"github.com/pulse-agent/internal/holdings"
	"github.com/pulse-agent/internal/syncer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent: sync orchestrator plus local view API",
	Long: `Start the long-running agent.

The orchestrator reconciles with the backend's sync status, resumes any
job already in flight, keeps the auto-sync schedule, and refreshes the
holdings cache after every successful sync. The view API serves the
aggregated portfolio and pushes state changes over WebSocket.

Examples:
  pulse-agent serve
  PULSE_API_PORT=9000 pulse-agent serve
  PULSE_SYNC_COOLDOWN_AS_IDLE=true pulse-agent serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireLogin(); err != nil {
		return err
	}

	cache := holdings.NewCache(a.client.Holdings)

	// The server needs the orchestrator for its handlers and the
	// orchestrator pushes events through the server, so the callbacks
	// close over a variable assigned right after.
	var server *api.Server

	orch, err := syncer.New(syncer.Config{
		Backend:        a.client,
		Session:        a.sessions,
		Logger:         a.logger,
		PollInterval:   a.cfg.Sync.PollInterval,
		PendingLimit:   a.cfg.Sync.PendingLimit,
		Tick:           a.cfg.Sync.Tick,
		ErrorDisplay:   a.cfg.Sync.ErrorDisplay,
		SuccessDisplay: a.cfg.Sync.SuccessDisplay,
		CooldownAsIdle: a.cfg.Sync.CooldownAsIdle,
		OnStateChange: func(snap syncer.Snapshot) {
			server.BroadcastSyncState(snap)
		},
		OnDataRefreshed: func() {
			// Runs on the orchestrator loop; fetch off it.
			go func() {
				fetchCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := cache.Refresh(fetchCtx); err != nil {
					a.logger.WithError(err).Warn("Post-sync holdings refresh failed")
					return
				}
				server.BroadcastHoldingsUpdated()
			}()
		},
	})
	if err != nil {
		return err
	}

	server = api.NewServer(api.Config{
		Host: a.cfg.API.Host,
		Port: a.cfg.API.Port,
	}, orch, cache, a.client, a.logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if err := orch.Start(ctx); err != nil {
		return err
	}

	// Warm the cache so the first portfolio request is served locally.
	go func() {
		warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := cache.Refresh(warmCtx); err != nil {
			a.logger.WithError(err).Warn("Initial holdings fetch failed")
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-interrupt:
		a.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	case err := <-serverErr:
		a.logger.WithError(err).Error("View API failed")
		orch.Stop()
		return err
	}

	orch.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Warn("View API shutdown was not clean")
	}

	a.logger.Info("Agent stopped")
	return nil
}
