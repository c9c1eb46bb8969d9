package cli

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"wealth-dashboard/internal/app"
)

var (
	valueOverrides  []string
	commitOverrides []string
)

var valueCmd = &cobra.Command{
	Use:   "value",
	Short: "Price every holding and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides, err := parseOverrides(valueOverrides)
		if err != nil {
			return err
		}
		return getApp().Value(cmd.Context(), app.ValueOptions{Overrides: overrides})
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Price every holding and archive a snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides, err := parseOverrides(commitOverrides)
		if err != nil {
			return err
		}
		return getApp().Commit(cmd.Context(), app.ValueOptions{Overrides: overrides})
	},
}

// parseOverrides reads repeated symbol=price flags. Later values win.
func parseOverrides(values []string) (map[string]float64, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(values))
	for _, v := range values {
		symbol, raw, ok := strings.Cut(v, "=")
		symbol = strings.TrimSpace(symbol)
		if !ok || symbol == "" {
			return nil, fmt.Errorf("invalid --override %q, want symbol=price", v)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || price < 0 || math.IsInf(price, 0) || math.IsNaN(price) {
			return nil, fmt.Errorf("invalid --override price %q", raw)
		}
		out[symbol] = price
	}
	return out, nil
}

func init() {
	valueCmd.Flags().StringArrayVar(&valueOverrides, "override", nil, "Manual unit price as symbol=price (repeatable)")
	commitCmd.Flags().StringArrayVar(&commitOverrides, "override", nil, "Manual unit price as symbol=price (repeatable)")
}
