package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"oiwatch/internal/alerting"
	"oiwatch/internal/config"
	"oiwatch/internal/detector"
	"oiwatch/internal/fetcher"
	"oiwatch/internal/scheduler"
	"oiwatch/internal/service"
	"oiwatch/internal/storage"
	"oiwatch/internal/trigger"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output meant for humans.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newUniverse() fetcher.UniverseSource {
	cfg := a.Config.CoinMarketCap
	return fetcher.NewCoinMarketCap(fetcher.CoinMarketCapOptions{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.RequestTimeout,
	}, a.Logger)
}

func (a *App) newMetricSource() fetcher.MetricSource {
	if a.Config.Collector.Source == config.SourceBinance {
		cfg := a.Config.Binance
		return fetcher.NewBinance(fetcher.BinanceOptions{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
			Period:    cfg.Period,
			Quote:     cfg.Quote,
		}, a.Logger)
	}
	cfg := a.Config.Coinglass
	return fetcher.NewCoinglass(fetcher.CoinglassOptions{
		BaseURL:  cfg.BaseURL,
		APIKey:   cfg.APIKey,
		Interval: cfg.Interval,
		Timeout:  cfg.RequestTimeout,
	}, a.Logger)
}

func (a *App) newNotifier() (alerting.Notifier, error) {
	cfg := a.Config.Alerting.Telegram
	if cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "" {
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.RequestTimeout, a.Logger), nil
	}
	if a.Config.Alerting.DryRun {
		a.Logger.Warn().Msg("alerting.dry_run enabled; alerts are only logged")
		return alerting.NewLogNotifier(a.Logger), nil
	}
	return nil, errors.New("no alert channel configured")
}

// openStore opens the configured backend and, for Postgres with
// auto_migrate, makes sure the schema and insert trigger exist.
func (a *App) openStore(ctx context.Context) (storage.ObservationStore, error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	if pg, ok := store.(*storage.Store); ok && a.Config.Database.AutoMigrate {
		if err := pg.EnsureSchema(ctx, a.Config.Analyzer.Channel); err != nil {
			store.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	return store, nil
}

// Migrate applies the schema and installs the insert notification trigger.
func (a *App) Migrate(ctx context.Context) error {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	pg, ok := store.(*storage.Store)
	if !ok {
		a.Logger.Info().Str("driver", a.Config.Database.Driver).Msg("schema migrated on open")
		return nil
	}
	if err := pg.EnsureSchema(ctx, a.Config.Analyzer.Channel); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	a.Logger.Info().Str("channel", a.Config.Analyzer.Channel).Msg("schema up to date")
	return nil
}

// RunCollector samples until interrupted, or exactly once when once is set.
func (a *App) RunCollector(ctx context.Context, once bool) error {
	if err := a.Config.ValidateCollector(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	var sched *scheduler.Scheduler
	if !once {
		sched = scheduler.New(scheduler.Options{
			Name:         "collector_scheduler",
			Interval:     a.Config.Collector.Interval,
			AlignToStart: a.Config.Collector.AlignToInterval,
			RunOnStart:   a.Config.Collector.RunOnStart,
		}, a.Logger)
	}

	collector := service.NewCollector(a.Config, sched, a.newUniverse(), a.newMetricSource(), store, a.Logger)

	if once {
		_, err := collector.Collect(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	a.Logger.Info().Dur("interval", a.Config.Collector.Interval).Msg("starting collector")
	err = collector.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("collector terminated with error")
		return err
	}
	a.Logger.Info().Msg("collector stopped")
	return nil
}

// RunAnalyzer runs detection cycles until interrupted. triggerOverride, when
// set, replaces analyzer.trigger.
func (a *App) RunAnalyzer(ctx context.Context, triggerOverride string) error {
	if err := a.Config.ValidateAnalyzer(); err != nil {
		return err
	}
	mode := a.Config.Analyzer.Trigger
	if triggerOverride != "" {
		mode = triggerOverride
	}
	if err := a.Config.ValidateTrigger(mode); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	source, err := a.newTrigger(mode, store)
	if err != nil {
		return err
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	dispatcher := alerting.NewAsyncDispatcher(notifier, a.Config.Analyzer.DispatchQueue, a.Config.Analyzer.DispatchTimeout, a.Logger)

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	det := detector.New(store, dispatcher, a.Config.Analyzer.Threshold, a.Logger)
	analyzer := service.NewAnalyzer(source, det, locker, a.Config.Analyzer.AdvisoryLockKey, a.Logger)

	runErr := analyzer.Run(ctx)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer drainCancel()
	if err := dispatcher.Close(drainCtx); err != nil {
		a.Logger.Warn().Err(err).Msg("alert queue not fully drained")
	}
	stats := dispatcher.Stats()
	a.Logger.Info().
		Int64("sent", stats.Sent).
		Int64("failed", stats.Failed).
		Int64("dropped", stats.Dropped).
		Msg("alert dispatcher closed")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func (a *App) newTrigger(mode string, store storage.ObservationStore) (trigger.Source, error) {
	if mode == config.TriggerPoll {
		return trigger.NewPoll(trigger.PollOptions{
			Interval:   a.Config.Analyzer.PollInterval,
			Align:      a.Config.Analyzer.AlignToInterval,
			RunOnStart: true,
		}, a.Logger), nil
	}

	pg, ok := store.(*storage.Store)
	if !ok {
		return nil, fmt.Errorf("push trigger requires database.driver=%s", config.DriverPostgres)
	}
	return trigger.NewPush(trigger.StoreSubscriber{Store: pg}, trigger.PushOptions{
		Channel:          a.Config.Analyzer.Channel,
		CatchUp:          true,
		FallbackInterval: a.Config.Analyzer.PushFallbackInterval,
	}, a.Logger), nil
}

func (a *App) shutdownTimeout() time.Duration {
	if a.Config.Analyzer.ShutdownTimeout > 0 {
		return a.Config.Analyzer.ShutdownTimeout
	}
	return 10 * time.Second
}

// ExportOptions hold parameters for exporting the current window.
type ExportOptions struct {
	PNGPath string
	CSVPath string
	MaxBars int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	// Symbol restricts the listing to one token. Empty lists all.
	Symbol string
	// MinGrowth hides observations below the given percentage when set.
	MinGrowth *float64
}

// SimulateOptions describe a synthetic alert.
type SimulateOptions struct {
	Symbol   string
	Name     string
	Previous float64
	Current  float64
}
