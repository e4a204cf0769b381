package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var integrationsCmd = &cobra.Command{
	Use:   "integrations",
	Short: "List connected accounts and their providers",
	Long: `List the integrations feeding the portfolio. The provider ids shown
here are the values the holdings --provider filter accepts.`,
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

		integrations, err := a.client.Integrations(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch integrations: %w", err)
		}
		if len(integrations) == 0 {
			cmd.Println("No integrations connected")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
		defer w.Flush()

		fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tACTIVE")
		for _, in := range integrations {
			fmt.Fprintf(w, "%d\t%s\t%s\t%t\n", in.ID, in.Name, in.ProviderID, in.IsActive)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(integrationsCmd)
}
