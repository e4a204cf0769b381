package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pulse-agent/internal/holdings"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print net worth, daily change, and allocation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := setupApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.requireLogin(); err != nil {
			return err
		}

		summary, err := a.client.Summary(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch summary: %w", err)
		}

		cmd.Printf("Net worth:    $%.2f\n", summary.NetWorth)
		cmd.Printf("Daily change: %+.2f%%\n", summary.DailyChange)

		rows, err := a.client.Holdings(ctx)
		if err != nil {
			// The headline numbers already printed; allocation is extra.
			a.logger.WithError(err).Debug("Holdings fetch for allocation failed")
			return nil
		}

		slices := holdings.Allocation(rows, 8)
		if len(slices) == 0 {
			return nil
		}

		cmd.Println("\nAllocation:")
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
		defer w.Flush()
		for _, slice := range slices {
			fmt.Fprintf(w, "  %s\t$%.2f\t%.1f%%\n", slice.Name, slice.ValueUSD, slice.Percent)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}
