package archive

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wealth-dashboard/internal/holdings"
	"wealth-dashboard/internal/valuation"
)

// ErrOutOfOrder is returned when a snapshot would precede the last one.
var ErrOutOfOrder = errors.New("archive: snapshot precedes the last entry")

// Totals is an amount in both currencies.
type Totals struct {
	Native float64 `json:"native"`
	USD    float64 `json:"usd"`
}

// Snapshot is an immutable archived valuation result.
type Snapshot struct {
	ID              uuid.UUID                    `json:"id"`
	Timestamp       time.Time                    `json:"timestamp"`
	Categories      map[holdings.Category]Totals `json:"categories"`
	Total           Totals                       `json:"total"`
	ChangeNativePct float64                      `json:"change_native_pct"`
	ChangeUSDPct    float64                      `json:"change_usd_pct"`
}

func (s Snapshot) clone() Snapshot {
	cats := make(map[holdings.Category]Totals, len(s.Categories))
	for k, v := range s.Categories {
		cats[k] = v
	}
	s.Categories = cats
	return s
}

// Category returns the totals of one category.
func (s Snapshot) Category(c holdings.Category) Totals {
	return s.Categories[c]
}

// FormatChange renders a percent change with an explicit sign, e.g. "+10.00%".
func FormatChange(pct float64) string {
	return fmt.Sprintf("%+.2f%%", pct)
}

// Archive is the append-only ordered sequence of snapshots.
type Archive struct {
	snapshots []Snapshot
	newID     func() uuid.UUID
}

// New builds an archive over existing snapshots, which must already be in
// chronological order.
func New(snapshots ...Snapshot) *Archive {
	a := &Archive{newID: uuid.New}
	for _, s := range snapshots {
		a.snapshots = append(a.snapshots, s.clone())
	}
	return a
}

// Len returns the number of snapshots.
func (a *Archive) Len() int { return len(a.snapshots) }

// Last returns the most recent snapshot.
func (a *Archive) Last() (Snapshot, bool) {
	if len(a.snapshots) == 0 {
		return Snapshot{}, false
	}
	return a.snapshots[len(a.snapshots)-1].clone(), true
}

// All returns every snapshot, oldest first.
func (a *Archive) All() []Snapshot {
	return a.Recent(len(a.snapshots))
}

// Recent returns up to n most recent snapshots, oldest first.
func (a *Archive) Recent(n int) []Snapshot {
	if n <= 0 {
		return nil
	}
	start := len(a.snapshots) - n
	if start < 0 {
		start = 0
	}
	out := make([]Snapshot, 0, len(a.snapshots)-start)
	for _, s := range a.snapshots[start:] {
		out = append(out, s.clone())
	}
	return out
}

// Pending builds the snapshot that Append would store for report at the
// given time, without storing it. The change fields compare against the
// last archived snapshot; the first snapshot has no change.
func (a *Archive) Pending(report *valuation.Report, at time.Time) Snapshot {
	s := Snapshot{
		Timestamp:  at,
		Categories: make(map[holdings.Category]Totals, len(holdings.Categories)),
		Total: Totals{
			Native: report.Total.Native.InexactFloat64(),
			USD:    report.Total.USD.InexactFloat64(),
		},
	}
	for _, c := range holdings.Categories {
		sub := report.Category(c)
		s.Categories[c] = Totals{Native: sub.Native.InexactFloat64(), USD: sub.USD.InexactFloat64()}
	}
	if last, ok := a.Last(); ok {
		s.ChangeNativePct = valuation.PercentChange(s.Total.Native, last.Total.Native)
		s.ChangeUSDPct = valuation.PercentChange(s.Total.USD, last.Total.USD)
	}
	return s
}

// Append stores a new snapshot of report taken at at.
func (a *Archive) Append(report *valuation.Report, at time.Time) (Snapshot, error) {
	if last, ok := a.Last(); ok && at.Before(last.Timestamp) {
		return Snapshot{}, fmt.Errorf("%w: %s before %s", ErrOutOfOrder,
			at.Format(time.RFC3339), last.Timestamp.Format(time.RFC3339))
	}
	s := a.Pending(report, at)
	s.ID = a.newID()
	a.snapshots = append(a.snapshots, s)
	return s.clone(), nil
}
