package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.InDelta(t, 10.0, cfg.Analyzer.Threshold, 1e-9)
	assert.Equal(t, TriggerPoll, cfg.Analyzer.Trigger)
	assert.Equal(t, 5*time.Minute, cfg.Analyzer.PollInterval)
	assert.Equal(t, "oi_observations", cfg.Analyzer.Channel)
	assert.Equal(t, 4*time.Hour, cfg.Collector.Interval)
	assert.Equal(t, 20, cfg.Collector.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Collector.RequestDelay)
	assert.Equal(t, 300, cfg.Collector.TopN)
	assert.Contains(t, cfg.Collector.Denylist, "USDT")
	assert.Equal(t, []string{"W"}, cfg.Collector.DenyPrefixes)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 40, cfg.Export.MaxBars)
}

func TestLoadLegacyEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://oi@localhost/oi")
	t.Setenv("TELEGRAM_BOT_TOKEN", "bot")
	t.Setenv("TELEGRAM_CHAT_ID", "-100")
	t.Setenv("COINGLASS_API_KEY", "cg")
	t.Setenv("COINMARKETCAP_API_KEY", "cmc")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://oi@localhost/oi", cfg.Database.DSN)
	assert.Equal(t, "bot", cfg.Alerting.Telegram.BotToken)
	assert.Equal(t, "-100", cfg.Alerting.Telegram.ChatID)
	assert.NoError(t, cfg.ValidateAnalyzer())
	assert.NoError(t, cfg.ValidateCollector())
}

func TestPrefixedEnvironmentWins(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://legacy")
	t.Setenv("OIWATCH_DATABASE_DSN", "postgres://prefixed")
	t.Setenv("OIWATCH_ANALYZER_THRESHOLD", "12.5")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://prefixed", cfg.Database.DSN)
	assert.InDelta(t, 12.5, cfg.Analyzer.Threshold, 1e-9)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oiwatch.yaml")
	content := []byte(`
database:
  driver: sqlite
  dsn: /tmp/oi.db
analyzer:
  threshold: 7.5
  poll_interval: 30s
collector:
  source: binance
  deny_prefixes: []
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.InDelta(t, 7.5, cfg.Analyzer.Threshold, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.Analyzer.PollInterval)
	assert.Equal(t, SourceBinance, cfg.Collector.Source)
}

func TestValidateRejectsPushOnSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oiwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: sqlite\nanalyzer:\n  trigger: push\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires database.driver")
}

func TestValidateRejectsNegativeThreshold(t *testing.T) {
	cfg := validConfig()
	cfg.Analyzer.Threshold = -1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadChannel(t *testing.T) {
	cfg := validConfig()
	cfg.Analyzer.Channel = "oi-observations; drop table"
	assert.Error(t, cfg.Validate())
}

func TestValidateAnalyzerListsEveryMissingSetting(t *testing.T) {
	cfg := validConfig()
	cfg.Alerting.Telegram.Enabled = true

	err := cfg.ValidateAnalyzer()
	var missing *MissingSettingsError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "analyzer", missing.Role)
	assert.Equal(t, []string{
		"database.dsn (DATABASE_URL)",
		"alerting.telegram.bot_token (TELEGRAM_BOT_TOKEN)",
		"alerting.telegram.chat_id (TELEGRAM_CHAT_ID)",
	}, missing.Settings)
	assert.Contains(t, err.Error(), "TELEGRAM_CHAT_ID")
}

func TestValidateAnalyzerDryRunNeedsNoTelegram(t *testing.T) {
	cfg := validConfig()
	cfg.Database.DSN = "postgres://x"
	cfg.Alerting.DryRun = true
	assert.NoError(t, cfg.ValidateAnalyzer())
}

func TestValidateTriggerChecksEffectiveMode(t *testing.T) {
	cfg := validConfig()
	cfg.Analyzer.Trigger = TriggerPush
	cfg.Analyzer.PollInterval = 0
	require.NoError(t, cfg.Validate())
	assert.NoError(t, cfg.ValidateTrigger(TriggerPush))
	assert.ErrorContains(t, cfg.ValidateTrigger(TriggerPoll), "poll_interval")

	cfg = validConfig()
	cfg.Analyzer.Channel = ""
	require.NoError(t, cfg.Validate())
	assert.NoError(t, cfg.ValidateTrigger(TriggerPoll))
	var missing *MissingSettingsError
	require.True(t, errors.As(cfg.ValidateTrigger(TriggerPush), &missing))
	assert.Equal(t, []string{"analyzer.channel"}, missing.Settings)

	cfg = validConfig()
	cfg.Database.Driver = DriverSQLite
	assert.ErrorContains(t, cfg.ValidateTrigger(TriggerPush), "requires database.driver")
	assert.Error(t, cfg.ValidateTrigger("cron"))
}

func TestValidateCollectorBinanceNeedsNoCoinglassKey(t *testing.T) {
	cfg := validConfig()
	cfg.Database.DSN = "postgres://x"
	cfg.CoinMarketCap.APIKey = "cmc"
	cfg.Collector.Source = SourceBinance
	assert.NoError(t, cfg.ValidateCollector())

	cfg.Collector.Source = SourceCoinglass
	var missing *MissingSettingsError
	require.True(t, errors.As(cfg.ValidateCollector(), &missing))
	assert.Equal(t, []string{"coinglass.api_key (COINGLASS_API_KEY)"}, missing.Settings)
}

func TestResolveMaxBars(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, 40, cfg.ResolveMaxBars(0))
	assert.Equal(t, 5, cfg.ResolveMaxBars(5))
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.Database.Driver = DriverPostgres
	cfg.Analyzer.Trigger = TriggerPoll
	cfg.Analyzer.PollInterval = time.Minute
	cfg.Analyzer.Channel = "oi_observations"
	cfg.Collector.Source = SourceCoinglass
	cfg.Collector.Interval = time.Hour
	cfg.Collector.BatchSize = 10
	cfg.Collector.TopN = 10
	cfg.Export.MaxBars = 40
	return cfg
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
