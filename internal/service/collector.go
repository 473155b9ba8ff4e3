package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"oiwatch/internal/config"
	"oiwatch/internal/fetcher"
	"oiwatch/internal/scheduler"
	"oiwatch/internal/storage"
)

// CollectReport summarises one sampling cycle.
type CollectReport struct {
	Universe int
	Sampled  int
	NoData   int
	Failed   int
	Inserted int64
}

// Collector samples the metric source for every tracked token and appends
// one observation per token per cycle.
type Collector struct {
	scheduler *scheduler.Scheduler
	universe  fetcher.UniverseSource
	metric    fetcher.MetricSource
	store     storage.ObservationWriter
	locker    storage.AdvisoryLocker
	logger    zerolog.Logger

	topN         int
	batchSize    int
	requestDelay time.Duration
	denylist     []string
	denyPrefixes []string
	lockKey      int64
}

// NewCollector wires the collector. sched may be nil for one-shot runs.
func NewCollector(cfg *config.Config, sched *scheduler.Scheduler, universe fetcher.UniverseSource, metric fetcher.MetricSource, store storage.ObservationWriter, logger zerolog.Logger) *Collector {
	batchSize := cfg.Collector.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Collector{
		scheduler:    sched,
		universe:     universe,
		metric:       metric,
		store:        store,
		locker:       locker,
		logger:       logger.With().Str("component", "collector").Str("source", metric.Name()).Logger(),
		topN:         cfg.Collector.TopN,
		batchSize:    batchSize,
		requestDelay: cfg.Collector.RequestDelay,
		denylist:     lo.Map(cfg.Collector.Denylist, func(s string, _ int) string { return strings.ToUpper(strings.TrimSpace(s)) }),
		denyPrefixes: lo.Map(cfg.Collector.DenyPrefixes, func(s string, _ int) string { return strings.ToUpper(strings.TrimSpace(s)) }),
		lockKey:      cfg.Collector.AdvisoryLockKey,
	}
}

// Run samples on the scheduler cadence until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	if c.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return c.scheduler.Run(ctx, func(ctx context.Context, at time.Time) error {
		_, err := c.Collect(ctx)
		return err
	})
}

// Collect runs one sampling cycle.
func (c *Collector) Collect(ctx context.Context) (CollectReport, error) {
	var report CollectReport

	unlock, proceed, err := acquireLock(ctx, c.locker, c.lockKey)
	if err != nil {
		return report, err
	}
	if !proceed {
		c.logger.Info().Msg("skip cycle because another collector holds the lock")
		return report, nil
	}
	if unlock != nil {
		defer unlock()
	}

	tokens, err := c.universe.FetchUniverse(ctx, c.topN)
	if err != nil {
		return report, fmt.Errorf("fetch universe: %w", err)
	}
	tokens = c.filter(tokens)
	report.Universe = len(tokens)
	c.logger.Info().Int("tokens", len(tokens)).Msg("collection cycle started")

	// rows sampled before a shutdown are still written
	writeCtx := context.WithoutCancel(ctx)
	batch := make([]storage.NewObservation, 0, c.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		inserted, err := c.store.InsertObservations(writeCtx, batch)
		if err != nil {
			report.Failed += len(batch)
			c.logger.Error().Err(err).Int("rows", len(batch)).Msg("failed to insert batch")
		} else {
			report.Inserted += inserted
			c.logger.Debug().Int64("rows", inserted).Msg("batch inserted")
		}
		batch = batch[:0]
	}

	for i, token := range tokens {
		if ctx.Err() != nil {
			break
		}

		obs, ok := c.sample(ctx, token, &report)
		if ok {
			batch = append(batch, obs)
		}
		if len(batch) >= c.batchSize {
			flush()
		}
		if i < len(tokens)-1 && c.requestDelay > 0 {
			if !pause(ctx, c.requestDelay) {
				break
			}
		}
	}
	flush()

	c.logger.Info().
		Int("universe", report.Universe).
		Int("sampled", report.Sampled).
		Int("no_data", report.NoData).
		Int("failed", report.Failed).
		Int64("inserted", report.Inserted).
		Msg("collection cycle finished")
	return report, ctx.Err()
}

func (c *Collector) sample(ctx context.Context, token fetcher.Token, report *CollectReport) (storage.NewObservation, bool) {
	series, err := c.metric.FetchSeries(ctx, token.Symbol)
	if err == nil {
		var growth float64
		growth, err = fetcher.Growth(series)
		if err == nil {
			report.Sampled++
			c.logger.Debug().Str("symbol", token.Symbol).Float64("growth", growth).Msg("sampled")
			return storage.NewObservation{Symbol: token.Symbol, Name: token.Name, Value: growth}, true
		}
	}
	if errors.Is(err, fetcher.ErrNoData) {
		report.NoData++
		c.logger.Debug().Str("symbol", token.Symbol).Msg("no open interest data")
	} else {
		report.Failed++
		c.logger.Warn().Err(err).Str("symbol", token.Symbol).Msg("failed to sample")
	}
	return storage.NewObservation{}, false
}

func (c *Collector) filter(tokens []fetcher.Token) []fetcher.Token {
	seen := make(map[string]struct{}, len(tokens))
	return lo.Filter(tokens, func(token fetcher.Token, _ int) bool {
		symbol := strings.ToUpper(token.Symbol)
		if lo.Contains(c.denylist, symbol) {
			return false
		}
		if lo.SomeBy(c.denyPrefixes, func(prefix string) bool { return prefix != "" && strings.HasPrefix(symbol, prefix) }) {
			return false
		}
		if _, dup := seen[symbol]; dup {
			return false
		}
		seen[symbol] = struct{}{}
		return true
	})
}

func pause(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func acquireLock(ctx context.Context, locker storage.AdvisoryLocker, key int64) (func(), bool, error) {
	if key == 0 || locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
