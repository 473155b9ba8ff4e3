package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"oiwatch/internal/storage"
)

// Show prints the unconsumed observation window, newest first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	return a.showWindow(ctx, store, opts)
}

func (a *App) showWindow(ctx context.Context, store storage.ObservationStore, opts ShowOptions) error {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	filtered := opts.Symbol != "" || opts.MinGrowth != nil

	total, err := store.CountObservations(ctx)
	if err != nil {
		return err
	}

	fetch := limit
	if filtered {
		// filters apply to the whole window before the limit
		fetch = int(total)
	}
	var observations []storage.Observation
	if fetch > 0 {
		observations, err = store.ListWindow(ctx, fetch)
		if err != nil {
			return err
		}
	}

	if filtered {
		symbol := strings.ToUpper(strings.TrimSpace(opts.Symbol))
		observations = lo.Filter(observations, func(obs storage.Observation, _ int) bool {
			if symbol != "" && obs.Symbol != symbol {
				return false
			}
			return opts.MinGrowth == nil || obs.Value >= *opts.MinGrowth
		})
		if len(observations) > limit {
			observations = observations[:limit]
		}
	}

	if len(observations) == 0 {
		fmt.Fprintln(a.Out, "no observations found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tName\tGrowth%\tID")

	for _, obs := range observations {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\n",
			obs.ObservedAt.UTC().Format(time.RFC3339),
			obs.Symbol,
			sanitizeInline(obs.Name),
			formatFloat(obs.Value, 2),
			obs.ID,
		)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	tokens := lo.Uniq(lo.Map(observations, func(obs storage.Observation, _ int) string { return obs.Symbol }))
	fmt.Fprintf(a.Out, "%d of %d unconsumed observations, %d tokens\n", len(observations), total, len(tokens))
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}

func formatFloat(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}
