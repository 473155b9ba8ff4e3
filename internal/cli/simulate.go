package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"oiwatch/internal/app"
)

var (
	simulateSymbol   string
	simulateName     string
	simulatePrevious float64
	simulateCurrent  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic alert through the configured channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSymbol == "" {
			return errors.New("--symbol is required")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Symbol:   simulateSymbol,
			Name:     simulateName,
			Previous: simulatePrevious,
			Current:  simulateCurrent,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "Token symbol, e.g. BTC")
	simulateCmd.Flags().StringVar(&simulateName, "name", "", "Display name (defaults to the symbol)")
	simulateCmd.Flags().Float64Var(&simulatePrevious, "previous", 0, "Previous OI growth value (%)")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "Current OI growth value (%)")
}
