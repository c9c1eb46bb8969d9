package app

import (
	"context"
	"errors"
	"fmt"

	"wealth-dashboard/internal/alerting"
)

// SimulateAlert values the portfolio, optionally at overridden prices, and
// sends the allocation message through the configured notifier regardless
// of drift or cooldown. Nothing is archived.
func (a *App) SimulateAlert(ctx context.Context, opts ValueOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	svc, closeStores, err := a.newService(ctx, nil)
	if err != nil {
		return err
	}
	defer closeStores()

	res, err := svc.Value(ctx, a.newSession(opts.Overrides))
	if err != nil {
		return err
	}
	note := svc.DriftNotification(res)
	note.Timestamp = res.Report.ValuedAt
	note.SnapshotID = "simulated"
	if len(note.Drift) == 0 {
		note.AdditionalMsg += "Allocation is within every target band.\n"
	}
	fmt.Fprint(a.Out, alerting.RenderMessage(note))
	return notifier.Notify(ctx, note)
}
