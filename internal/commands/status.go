package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulse-agent/internal/syncer"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the server's sync status and the cached local hints",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := setupApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		hints := a.sessions.LoadHints(ctx)
		if !hints.LastSync.IsZero() {
			cmd.Printf("Cached last sync:  %s\n", hints.LastSync.Local().Format(time.RFC1123))
		}
		if hints.Interval > 0 {
			cmd.Printf("Cached interval:   %s\n", hints.Interval)
		}

		if err := a.requireLogin(); err != nil {
			return err
		}

		status, err := a.client.SyncStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch sync status: %w", err)
		}

		switch {
		case status.ActiveTaskID != "":
			cmd.Printf("Server:            syncing (task %s)\n", status.ActiveTaskID)
		case status.RemainingCooldown > 0:
			cmd.Printf("Server:            cooldown, %ds remaining\n", status.RemainingCooldown)
		default:
			cmd.Println("Server:            idle")
		}

		if status.LastSyncTime != nil && !status.LastSyncTime.IsZero() {
			cmd.Printf("Last sync:         %s\n", status.LastSyncTime.Local().Format(time.RFC1123))
		}
		if status.AutoSyncInterval > 0 {
			interval := time.Duration(status.AutoSyncInterval) * time.Second
			cmd.Printf("Auto-sync every:   %s\n", interval)

			ref := time.Now()
			if status.LastSyncTime != nil && !status.LastSyncTime.IsZero() {
				ref = status.LastSyncTime.Time
			}
			next := syncer.NextSyncTime(ref, interval)
			if next.Before(time.Now()) {
				next = syncer.NextSyncTime(time.Now(), interval)
			}
			cmd.Printf("Next auto-sync:    %s\n", next.Local().Format(time.RFC1123))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
