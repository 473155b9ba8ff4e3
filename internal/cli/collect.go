package cli

import (
	"github.com/spf13/cobra"
)

var collectOnce bool

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Sample open-interest growth for the tracked universe",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RunCollector(cmd.Context(), collectOnce)
	},
}

func init() {
	collectCmd.Flags().BoolVar(&collectOnce, "once", false, "Run a single collection cycle and exit")
}
