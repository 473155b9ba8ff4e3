// Package detector holds the analyzer core: it pairs the two newest
// observations of every ready token, decides whether the growth accelerated
// past the threshold, and prunes the consumed rows.
package detector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"oiwatch/internal/alerting"
	"oiwatch/internal/storage"
)

// State of a token's unconsumed window.
type State int

const (
	// Idle tokens hold zero or one unconsumed observation.
	Idle State = iota
	// Ready tokens hold two or more and are evaluated on the next cycle.
	Ready
	// Evaluated tokens had their pair decided in the current cycle.
	Evaluated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case Evaluated:
		return "evaluated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Classify maps an unconsumed observation count onto Idle or Ready.
func Classify(unconsumed int) State {
	if unconsumed >= 2 {
		return Ready
	}
	return Idle
}

// Dispatcher accepts alerts without blocking the cycle.
type Dispatcher interface {
	Dispatch(alert alerting.Alert) bool
}

// Report summarises one detection cycle.
type Report struct {
	Candidates int
	Evaluated  int
	Skipped    int
	Alerted    []string
	Pruned     int64
	Failed     int
	Duration   time.Duration
}

// Detector runs detection cycles against a window store.
type Detector struct {
	store      storage.WindowStore
	dispatcher Dispatcher
	threshold  float64
	logger     zerolog.Logger

	// cycles never overlap, even when triggers race
	mu sync.Mutex
}

// New constructs a Detector. threshold must be non-negative.
func New(store storage.WindowStore, dispatcher Dispatcher, threshold float64, logger zerolog.Logger) *Detector {
	if threshold < 0 {
		panic("detector threshold must be non-negative")
	}
	return &Detector{
		store:      store,
		dispatcher: dispatcher,
		threshold:  threshold,
		logger:     logger.With().Str("component", "detector").Logger(),
	}
}

// Threshold returns the configured alert threshold.
func (d *Detector) Threshold() float64 {
	return d.threshold
}

// ShouldAlert reports whether delta reaches the threshold. Ties alert.
func ShouldAlert(delta, threshold float64) bool {
	return delta >= threshold
}

// RunCycle evaluates every candidate token once. Only a failure to list
// candidates is returned; per-token failures are logged and counted, and the
// next trigger retries them.
func (d *Detector) RunCycle(ctx context.Context) (Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	started := time.Now()
	var report Report

	candidates, err := d.store.ListCandidateTokens(ctx)
	if err != nil {
		return report, fmt.Errorf("list candidate tokens: %w", err)
	}
	candidates = lo.Uniq(candidates)
	report.Candidates = len(candidates)

	for _, symbol := range candidates {
		d.evaluate(ctx, symbol, &report)
	}

	report.Duration = time.Since(started)
	event := d.logger.Debug()
	if report.Candidates > 0 {
		event = d.logger.Info()
	}
	event.Int("candidates", report.Candidates).
		Int("evaluated", report.Evaluated).
		Int("skipped", report.Skipped).
		Int("alerts", len(report.Alerted)).
		Int64("pruned", report.Pruned).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("detection cycle finished")
	return report, nil
}

func (d *Detector) evaluate(ctx context.Context, symbol string, report *Report) {
	log := d.logger.With().Str("symbol", symbol).Logger()

	pair, ok, err := d.store.LatestTwo(ctx, symbol)
	if err != nil {
		report.Failed++
		log.Error().Err(err).Msg("failed to read latest observations")
		return
	}
	if !ok {
		// lost the race to another consumer; nothing to pair this cycle
		report.Skipped++
		log.Debug().Msg("fewer than two observations; skipping")
		return
	}
	report.Evaluated++

	delta := pair.Delta()
	log.Debug().
		Float64("current", pair.Current.Value).
		Float64("previous", pair.Previous.Value).
		Float64("delta", delta).
		Stringer("state", Evaluated).
		Msg("pair evaluated")

	if ShouldAlert(delta, d.threshold) {
		report.Alerted = append(report.Alerted, symbol)
		d.dispatch(pair, delta, log)
	}

	// pruning runs whatever happened to the alert
	deleted, err := d.store.DeleteConsumed(ctx, symbol, pair.Current)
	if err != nil {
		report.Failed++
		log.Error().Err(err).Msg("failed to prune consumed observations")
		return
	}
	report.Pruned += deleted
	if deleted > 1 {
		log.Warn().Int64("deleted", deleted).Msg("pruned stale stragglers")
	}
}

func (d *Detector) dispatch(pair storage.Pair, delta float64, log zerolog.Logger) {
	name := pair.Current.Name
	if name == "" {
		name = pair.Previous.Name
	}
	alert := alerting.Alert{
		Symbol:     pair.Current.Symbol,
		Name:       name,
		Current:    pair.Current.Value,
		Previous:   pair.Previous.Value,
		Delta:      delta,
		Threshold:  d.threshold,
		ObservedAt: pair.Current.ObservedAt,
	}
	if d.dispatcher == nil {
		log.Warn().Msg("no dispatcher configured; alert not delivered")
		return
	}
	if !d.dispatcher.Dispatch(alert) {
		log.Warn().Msg("alert was not queued")
		return
	}
	log.Info().Float64("delta", delta).Float64("threshold", d.threshold).Msg("alert queued")
}
