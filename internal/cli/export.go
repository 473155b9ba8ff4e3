package cli

import (
	"github.com/spf13/cobra"

	"oiwatch/internal/app"
)

var (
	exportPNGPath string
	exportCSVPath string
	exportMaxBars int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the current window as CSV and/or a PNG bar chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath: exportPNGPath,
			CSVPath: exportCSVPath,
			MaxBars: exportMaxBars,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxBars, "max-bars", 0, "Maximum tokens in the chart (defaults to config)")
}
