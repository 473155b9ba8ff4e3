package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"oiwatch/internal/config"
)

var analyzeTrigger string

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Detect growth accelerations and send alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		switch analyzeTrigger {
		case "", config.TriggerPoll, config.TriggerPush:
		default:
			return fmt.Errorf("--trigger must be %q or %q", config.TriggerPoll, config.TriggerPush)
		}
		return getApp().RunAnalyzer(cmd.Context(), analyzeTrigger)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeTrigger, "trigger", "", "Trigger mode: poll or push (defaults to config)")
}
