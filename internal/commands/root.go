// Package commands defines the pulse-agent CLI: the long-running serve
// command plus one-shot commands for auth, sync, and portfolio views.
package commands

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pulse-agent",
	Short: "Headless client agent for the QuantPulse portfolio backend",
	Long: `pulse-agent keeps a QuantPulse session alive, drives the backend's
asynchronous portfolio refresh job, and serves the merged holdings view
over a local HTTP/WebSocket API.

The agent owns three things the dashboard needs but a browser tab cannot
be trusted with: bearer-token refresh across restarts, the sync
orchestration state machine (polling, cooldowns, auto-sync scheduling),
and symbol-level aggregation of per-integration holdings.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
