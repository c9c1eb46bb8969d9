package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	setQuantity float64
	setUnitCost float64
)

var holdingsCmd = &cobra.Command{
	Use:   "holdings",
	Short: "Inspect and edit holdings",
}

var holdingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List holdings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListHoldings(cmd.Context())
	},
}

var holdingsSetCmd = &cobra.Command{
	Use:   "set <category> <symbol>",
	Short: "Set a holding's quantity, blending the unit cost into its basis",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if setQuantity < 0 || setUnitCost < 0 {
			return fmt.Errorf("--quantity and --unit-cost cannot be negative")
		}
		return getApp().SetHolding(cmd.Context(), args[0], args[1], setQuantity, setUnitCost)
	},
}

var holdingsDeleteCmd = &cobra.Command{
	Use:   "delete <category> <symbol>",
	Short: "Remove a holding",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().DeleteHolding(cmd.Context(), args[0], args[1])
	},
}

func init() {
	holdingsSetCmd.Flags().Float64Var(&setQuantity, "quantity", 0, "Total quantity held")
	holdingsSetCmd.Flags().Float64Var(&setUnitCost, "unit-cost", 0, "USD unit cost of the added quantity (0 keeps the basis)")
	_ = holdingsSetCmd.MarkFlagRequired("quantity")

	holdingsCmd.AddCommand(holdingsListCmd, holdingsSetCmd, holdingsDeleteCmd)
}
