package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"wealth-dashboard/internal/holdings"
)

// ListHoldings prints the registry.
func (a *App) ListHoldings(ctx context.Context) error {
	svc, closeStores, err := a.newService(ctx, nil)
	if err != nil {
		return err
	}
	defer closeStores()

	list, err := svc.ListHoldings(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.Out, "no holdings")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Category\tSymbol\tQuantity\tCost basis (USD)")
	for _, h := range list {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
			h.Category,
			strings.ToUpper(h.Symbol),
			decimal.NewFromFloat(h.Quantity).String(),
			formatMoney(decimal.NewFromFloat(h.CostBasisUSD), "USD"),
		)
	}
	return writer.Flush()
}

// SetHolding sets a holding's quantity and blends unitCost into its basis.
func (a *App) SetHolding(ctx context.Context, category, symbol string, quantity, unitCostUSD float64) error {
	cat, err := holdings.ParseCategory(category)
	if err != nil {
		return err
	}
	svc, closeStores, err := a.newService(ctx, nil)
	if err != nil {
		return err
	}
	defer closeStores()

	h, err := svc.SetHolding(ctx, cat, symbol, quantity, unitCostUSD)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s: quantity %s, cost basis %s\n",
		h.Key(), decimal.NewFromFloat(h.Quantity).String(), formatMoney(decimal.NewFromFloat(h.CostBasisUSD), "USD"))
	return nil
}

// DeleteHolding removes a holding.
func (a *App) DeleteHolding(ctx context.Context, category, symbol string) error {
	cat, err := holdings.ParseCategory(category)
	if err != nil {
		return err
	}
	svc, closeStores, err := a.newService(ctx, nil)
	if err != nil {
		return err
	}
	defer closeStores()

	key := holdings.NewKey(cat, symbol)
	if err := svc.DeleteHolding(ctx, key); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s deleted\n", key)
	return nil
}
