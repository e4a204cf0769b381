package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulse-agent/internal/backend"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Trigger a portfolio refresh and follow it to completion",
	Long: `Start one backend refresh job and poll it until it finishes.

A cooldown rejection prints the remaining wait instead of failing with a
raw error. A job that never leaves PENDING is abandoned after the
configured number of polls, the same policy the serve orchestrator uses.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireLogin(); err != nil {
		return err
	}

	started, err := a.client.StartRefresh(ctx)
	if err != nil {
		if apiErr, ok := backend.AsAPIError(err); ok && apiErr.IsCooldown() {
			cmd.Printf("Sync refused: cooldown active, retry in %ds\n", apiErr.RetryAfter)
			return nil
		}
		return fmt.Errorf("failed to start sync: %w", err)
	}
	cmd.Printf("Sync started (task %s)\n", started.TaskID)

	ticker := time.NewTicker(a.cfg.Sync.PollInterval)
	defer ticker.Stop()

	pendingStreak := 0
	lastLine := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		status, err := a.client.TaskStatus(ctx, started.TaskID)
		if err != nil {
			// Transient; keep polling.
			a.logger.WithError(err).Debug("Status poll failed")
			continue
		}

		switch status.State {
		case backend.TaskPending:
			pendingStreak++
			if pendingStreak >= a.cfg.Sync.PendingLimit {
				return fmt.Errorf("sync never started after %d polls, giving up", pendingStreak)
			}
		case backend.TaskStarted, backend.TaskProgress:
			pendingStreak = 0
			if status.Info != nil && status.Info.Stage == backend.StageDone {
				// The worker's final update is PROGRESS with stage DONE;
				// SUCCESS may never be served once the task result expires.
				cmd.Println("Sync complete")
				return nil
			}
			if status.Info != nil {
				line := fmt.Sprintf("%3d%%  %s", status.Info.Percent(), status.Info.Message)
				if line != lastLine {
					cmd.Println(line)
					lastLine = line
				}
			}
		case backend.TaskSuccess:
			if status.Result != nil && status.Result.SyncedIntegrations > 0 {
				cmd.Printf("Sync complete: %d integrations refreshed\n", status.Result.SyncedIntegrations)
			} else {
				cmd.Println("Sync complete")
			}
			return nil
		case backend.TaskFailure, backend.TaskRevoked:
			message := "sync failed"
			if status.Info != nil && status.Info.Error != "" {
				message = status.Info.Error
			}
			return fmt.Errorf("%s", message)
		}
	}
}
