package cli

import (
	"github.com/spf13/cobra"

	"wealth-dashboard/internal/app"
)

var simulateOverrides []string

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send the allocation message for the current portfolio",
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides, err := parseOverrides(simulateOverrides)
		if err != nil {
			return err
		}
		return getApp().SimulateAlert(cmd.Context(), app.ValueOptions{Overrides: overrides})
	},
}

func init() {
	simulateCmd.Flags().StringArrayVar(&simulateOverrides, "override", nil, "Manual unit price as symbol=price (repeatable)")
}
