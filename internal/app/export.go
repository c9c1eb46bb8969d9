package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"wealth-dashboard/internal/archive"
	"wealth-dashboard/internal/holdings"
)

// Export renders archived snapshots as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	svc, closeStores, err := a.newService(ctx, nil)
	if err != nil {
		return err
	}
	defer closeStores()

	all, err := svc.History(ctx, 0)
	if err != nil {
		return err
	}
	if opts.From != nil && opts.To != nil && !opts.From.Before(*opts.To) {
		return errors.New("from must be before to")
	}

	snaps := filterWindow(all, opts.From, opts.To)
	if len(snaps) == 0 {
		a.Logger.Info().Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleSnapshots(snaps, opts.MaxPoints)
	a.Logger.Info().Int("total", len(snaps)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if len(downsampled) < 2 {
			return errors.New("a chart needs at least two snapshots")
		}
		if err := writeSnapshotsPNG(opts.PNGPath, a.Config.Currency.Native, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// filterWindow keeps snapshots with from <= t < to.
func filterWindow(snaps []archive.Snapshot, from, to *time.Time) []archive.Snapshot {
	out := make([]archive.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if from != nil && s.Timestamp.Before(*from) {
			continue
		}
		if to != nil && !s.Timestamp.Before(*to) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func downsampleSnapshots(snaps []archive.Snapshot, max int) []archive.Snapshot {
	if max <= 0 || len(snaps) <= max {
		return snaps
	}
	if max == 1 {
		return snaps[len(snaps)-1:]
	}

	result := make([]archive.Snapshot, 0, max)
	step := float64(len(snaps)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snaps) {
			idx = len(snaps) - 1
		}
		result = append(result, snaps[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snaps []archive.Snapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "id"}
	for _, c := range holdings.Categories {
		header = append(header, string(c)+"_native", string(c)+"_usd")
	}
	header = append(header, "total_native", "total_usd", "change_native_pct", "change_usd_pct")
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, s := range snaps {
		record := []string{s.Timestamp.Format(time.RFC3339), s.ID.String()}
		for _, c := range holdings.Categories {
			t := s.Category(c)
			record = append(record, formatFloat(t.Native), formatFloat(t.USD))
		}
		record = append(record,
			formatFloat(s.Total.Native),
			formatFloat(s.Total.USD),
			formatFloat(s.ChangeNativePct),
			formatFloat(s.ChangeUSDPct),
		)
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSnapshotsPNG(path, native string, snaps []archive.Snapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(snaps))
	totalNative := make([]float64, len(snaps))
	totalUSD := make([]float64, len(snaps))

	for i, s := range snaps {
		x[i] = s.Timestamp
		totalNative[i] = s.Total.Native
		totalUSD[i] = s.Total.USD
	}

	amountFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Total (" + native + ")",
			ValueFormatter: amountFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Total (USD)",
			ValueFormatter: amountFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Total " + native,
				XValues: x,
				YValues: totalNative,
			},
			chart.TimeSeries{
				Name:    "Total USD",
				XValues: x,
				YValues: totalUSD,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
