package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"oiwatch/internal/storage"
)

// Export writes the current window as CSV and/or renders the latest value of
// each token as a PNG bar chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	return a.exportWindow(ctx, store, opts)
}

func (a *App) exportWindow(ctx context.Context, store storage.ObservationStore, opts ExportOptions) error {
	opts.MaxBars = a.Config.ResolveMaxBars(opts.MaxBars)

	total, err := store.CountObservations(ctx)
	if err != nil {
		return err
	}
	if total == 0 {
		a.Logger.Info().Msg("no observations to export")
		return nil
	}

	observations, err := store.ListWindow(ctx, int(total))
	if err != nil {
		return err
	}

	if opts.CSVPath != "" {
		if err := writeObservationsCSV(opts.CSVPath, observations); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		latest := latestPerToken(observations, opts.MaxBars)
		if err := writeLatestPNG(opts.PNGPath, latest); err != nil {
			return err
		}
	}

	a.Logger.Info().Int("rows", len(observations)).Str("csv", opts.CSVPath).Str("png", opts.PNGPath).Msg("window exported")
	return nil
}

// latestPerToken keeps the newest observation of each token and returns the
// max largest by value.
func latestPerToken(observations []storage.Observation, max int) []storage.Observation {
	seen := make(map[string]struct{}, len(observations))
	latest := make([]storage.Observation, 0, len(observations))
	// input is newest first, so the first hit per symbol wins
	for _, obs := range observations {
		if _, ok := seen[obs.Symbol]; ok {
			continue
		}
		seen[obs.Symbol] = struct{}{}
		latest = append(latest, obs)
	}

	sort.SliceStable(latest, func(i, j int) bool { return latest[i].Value > latest[j].Value })
	if max > 0 && len(latest) > max {
		latest = latest[:max]
	}
	return latest
}

func writeObservationsCSV(path string, observations []storage.Observation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"id", "observed_at", "token_symbol", "token_name", "metric_value"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, obs := range observations {
		record := []string{
			strconv.FormatInt(obs.ID, 10),
			obs.ObservedAt.UTC().Format(time.RFC3339Nano),
			obs.Symbol,
			obs.Name,
			strconv.FormatFloat(obs.Value, 'f', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeLatestPNG(path string, latest []storage.Observation) error {
	if len(latest) == 0 {
		return errors.New("nothing to chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	bars := make([]chart.Value, 0, len(latest))
	low, high := 0.0, 0.0
	for _, obs := range latest {
		bars = append(bars, chart.Value{Label: obs.Symbol, Value: obs.Value})
		low = math.Min(low, obs.Value)
		high = math.Max(high, obs.Value)
	}
	if high == low {
		high = low + 1
	}

	const barWidth, barSpacing = 48, 24
	width := (barWidth+barSpacing)*len(bars) + 200
	if width < 640 {
		width = 640
	}
	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.BarChart{
		Title:      "Open interest growth (%)",
		Width:      width,
		Height:     720,
		BarWidth:   barWidth,
		BarSpacing: barSpacing,
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		UseBaseValue: true,
		BaseValue:    0,
		YAxis: chart.YAxis{
			Range:          &chart.ContinuousRange{Min: low, Max: high},
			ValueFormatter: pctFormatter,
		},
		Bars: bars,
	}

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
