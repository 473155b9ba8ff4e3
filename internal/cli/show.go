package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"oiwatch/internal/app"
)

var (
	showLimit     int
	showSymbol    string
	showMinGrowth float64
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "List observations still waiting for the analyzer",
	Long: "List the unconsumed observation window, newest first. Rows disappear " +
		"once an analyzer cycle has compared them.",
	Example: "  oiwatch show --symbol btc\n  oiwatch show --min-growth 10 --limit 20",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Symbol: showSymbol,
		}
		if cmd.Flags().Changed("min-growth") {
			opts.MinGrowth = &showMinGrowth
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 50, "Maximum rows to print")
	showCmd.Flags().StringVar(&showSymbol, "symbol", "", "Only show this token symbol")
	showCmd.Flags().Float64Var(&showMinGrowth, "min-growth", 0, "Hide rows whose growth % is below this value")
}
