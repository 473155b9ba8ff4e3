package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"oiwatch/internal/alerting"
)

// SimulateAlert sends a synthetic alert through the configured channel
// without touching the store.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	symbol := strings.ToUpper(strings.TrimSpace(opts.Symbol))
	if symbol == "" {
		return errors.New("symbol is required")
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}

	name := opts.Name
	if name == "" {
		name = symbol
	}
	alert := alerting.Alert{
		Symbol:     symbol,
		Name:       name,
		Current:    opts.Current,
		Previous:   opts.Previous,
		Delta:      opts.Current - opts.Previous,
		Threshold:  a.Config.Analyzer.Threshold,
		ObservedAt: time.Now().UTC(),
	}
	if alert.Delta < alert.Threshold {
		a.Logger.Warn().
			Float64("delta", alert.Delta).
			Float64("threshold", alert.Threshold).
			Msg("simulated delta is below the threshold; a live cycle would not alert")
	}

	return notifier.Notify(ctx, alert)
}
