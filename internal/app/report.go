package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	money "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"wealth-dashboard/internal/archive"
	"wealth-dashboard/internal/holdings"
	"wealth-dashboard/internal/service"
)

// History prints recent archived snapshots.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	svc, closeStores, err := a.newService(ctx, nil)
	if err != nil {
		return err
	}
	defer closeStores()

	snaps, err := svc.History(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Fprintln(a.Out, "no snapshots archived")
		return nil
	}
	return a.printHistory(snaps)
}

func (a *App) printHistory(snaps []archive.Snapshot) error {
	native := a.Config.Currency.Native
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Time\tTotal (%s)\tChange\tTotal (USD)\tChange\n", native)
	for _, s := range snaps {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			s.Timestamp.Format("2006-01-02 15:04"),
			formatMoney(decimal.NewFromFloat(s.Total.Native), native),
			archive.FormatChange(s.ChangeNativePct),
			formatMoney(decimal.NewFromFloat(s.Total.USD), "USD"),
			archive.FormatChange(s.ChangeUSDPct),
		)
	}
	return writer.Flush()
}

func (a *App) printResult(res *service.Result) error {
	native := a.Config.Currency.Native
	report := res.Report

	if res.Degraded {
		fmt.Fprintln(a.Out, "warning: holdings file unreadable; showing an empty portfolio")
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Category\tSymbol\tQuantity\tPrice (%s)\tPrice (USD)\tValue (%s)\tValue (USD)\tDay %%\tP/L %%\tSource\n", native, native)
	for _, row := range report.Rows {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			row.Holding.Category,
			strings.ToUpper(row.Holding.Symbol),
			decimal.NewFromFloat(row.Holding.Quantity).String(),
			decimal.NewFromFloat(row.PriceNative).StringFixed(2),
			decimal.NewFromFloat(row.PriceUSD).StringFixed(2),
			formatMoney(decimal.NewFromFloat(row.ValueNative), native),
			formatMoney(decimal.NewFromFloat(row.ValueUSD), "USD"),
			archive.FormatChange(row.ChangeNativePct),
			archive.FormatChange(row.PLPercent),
			row.Source,
		)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(a.Out)
	writer = tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Category\tTotal (%s)\tTotal (USD)\n", native)
	for _, c := range holdings.Categories {
		sub := report.Category(c)
		fmt.Fprintf(writer, "%s\t%s\t%s\n", c, formatMoney(sub.Native, native), formatMoney(sub.USD, "USD"))
	}
	fmt.Fprintf(writer, "total\t%s\t%s\n", formatMoney(report.Total.Native, native), formatMoney(report.Total.USD, "USD"))
	if err := writer.Flush(); err != nil {
		return err
	}
	if rate := report.USDRate(); rate > 0 {
		fmt.Fprintf(a.Out, "USD/%s: %s (%s)\n", native, decimal.NewFromFloat(rate).StringFixed(4), report.Rates.Source("USD"))
	} else {
		fmt.Fprintf(a.Out, "USD/%s: unknown\n", native)
	}

	fmt.Fprintln(a.Out)
	writer = tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Bucket\tShare\tTarget\tDeviation\tStatus")
	for _, e := range res.Risk {
		fmt.Fprintf(writer, "%s\t%.1f%%\t%.0f%%\t%+.1fpp\t%s\n", e.Bucket.Label(), e.Percentage, e.Target, e.Deviation, e.Status)
	}
	return writer.Flush()
}

func (a *App) printSnapshotLine(s archive.Snapshot) error {
	_, err := fmt.Fprintf(a.Out, "\nsnapshot %s at %s (%s %s, USD %s)\n",
		s.ID, s.Timestamp.Format(time.RFC3339),
		a.Config.Currency.Native, archive.FormatChange(s.ChangeNativePct), archive.FormatChange(s.ChangeUSDPct))
	return err
}

// formatMoney renders an amount with the currency's grouping and symbol.
// Codes unknown to the currency table, such as gram gold, fall back to a
// plain two-decimal figure.
func formatMoney(amount decimal.Decimal, code string) string {
	cur := money.GetCurrency(code)
	if cur == nil {
		return amount.StringFixed(2) + " " + code
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, cur.Code).Display()
}
