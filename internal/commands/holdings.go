package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pulse-agent/internal/holdings"
)

var (
	holdingsMinValue float64
	holdingsQuery    string
	holdingsProvider string
	holdingsByGroup  bool
)

var holdingsCmd = &cobra.Command{
	Use:   "holdings",
	Short: "Print the aggregated portfolio",
	Long: `Fetch the raw per-integration holdings, merge them per symbol, and
print the result. Rows held through several integrations appear once
with value-weighted price and 24h change.

Examples:
  pulse-agent holdings
  pulse-agent holdings --min-value 1          # hide dust
  pulse-agent holdings -q btc
  pulse-agent holdings --group-by-provider`,
	RunE: runHoldings,
}

func init() {
	holdingsCmd.Flags().Float64Var(&holdingsMinValue, "min-value", 0, "hide rows below this USD value")
	holdingsCmd.Flags().StringVarP(&holdingsQuery, "query", "q", "", "substring match on symbol or name")
	holdingsCmd.Flags().StringVar(&holdingsProvider, "provider", "", "only rows from this provider")
	holdingsCmd.Flags().BoolVar(&holdingsByGroup, "group-by-provider", false, "partition by provider instead of merging symbols")

	rootCmd.AddCommand(holdingsCmd)
}

func runHoldings(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireLogin(); err != nil {
		return err
	}

	rows, err := a.client.Holdings(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch holdings: %w", err)
	}

	rows = holdings.Filter(rows, holdings.Options{
		MinValueUSD: holdingsMinValue,
		Query:       holdingsQuery,
		Provider:    holdingsProvider,
	})
	if len(rows) == 0 {
		cmd.Println("No holdings match")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
	defer w.Flush()

	if holdingsByGroup {
		for _, group := range holdings.GroupByProvider(rows) {
			fmt.Fprintf(w, "%s\t\t$%.2f\t\n", group.Provider, group.ValueUSD)
			for _, h := range group.Holdings {
				fmt.Fprintf(w, "  %s\t%.8g\t$%.2f\t%+.2f%%\n", h.Symbol, h.Balance, h.ValueUSD, h.Change24h)
			}
		}
		return nil
	}

	merged := holdings.Aggregate(rows)
	fmt.Fprintln(w, "SYMBOL\tBALANCE\tVALUE\t24H\tSOURCE")
	for _, h := range merged {
		fmt.Fprintf(w, "%s\t%.8g\t$%.2f\t%+.2f%%\t%s\n", h.Symbol, h.Balance, h.ValueUSD, h.Change24h, h.IntegrationName)
	}
	fmt.Fprintf(w, "TOTAL\t\t$%.2f\t\t\n", holdings.TotalValueUSD(merged))
	return nil
}
