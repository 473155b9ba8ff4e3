package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"oiwatch/internal/logging"
)

// Trigger modes understood by the analyzer.
const (
	TriggerPoll = "poll"
	TriggerPush = "push"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Metric sources understood by the collector.
const (
	SourceCoinglass = "coinglass"
	SourceBinance   = "binance"
)

var channelPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Config materialises application configuration. It is built once at startup
// and handed to components by pointer; nothing mutates it afterwards.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Logging       logging.Config      `mapstructure:"logging"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Analyzer      AnalyzerConfig      `mapstructure:"analyzer"`
	Collector     CollectorConfig     `mapstructure:"collector"`
	Coinglass     CoinglassConfig     `mapstructure:"coinglass"`
	CoinMarketCap CoinMarketCapConfig `mapstructure:"coinmarketcap"`
	Binance       BinanceConfig       `mapstructure:"binance"`
	Alerting      AlertingConfig      `mapstructure:"alerting"`
	Export        ExportConfig        `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates store connectivity.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// AnalyzerConfig governs change detection.
type AnalyzerConfig struct {
	Threshold            float64       `mapstructure:"threshold"`
	Trigger              string        `mapstructure:"trigger"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	AlignToInterval      bool          `mapstructure:"align_to_interval"`
	Channel              string        `mapstructure:"channel"`
	PushFallbackInterval time.Duration `mapstructure:"push_fallback_interval"`
	AdvisoryLockKey      int64         `mapstructure:"advisory_lock_key"`
	DispatchQueue        int           `mapstructure:"dispatch_queue"`
	DispatchTimeout      time.Duration `mapstructure:"dispatch_timeout"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout"`
}

// CollectorConfig governs sampling cadence and universe filtering.
type CollectorConfig struct {
	Source          string        `mapstructure:"source"`
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	TopN            int           `mapstructure:"top_n"`
	BatchSize       int           `mapstructure:"batch_size"`
	RequestDelay    time.Duration `mapstructure:"request_delay"`
	Denylist        []string      `mapstructure:"denylist"`
	DenyPrefixes    []string      `mapstructure:"deny_prefixes"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// CoinglassConfig covers the open-interest history API.
type CoinglassConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Interval       string        `mapstructure:"interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CoinMarketCapConfig covers the token universe listing.
type CoinMarketCapConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// BinanceConfig covers the futures open-interest statistics endpoint.
type BinanceConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	BaseURL   string `mapstructure:"base_url"`
	Period    string `mapstructure:"period"`
	Quote     string `mapstructure:"quote"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	DryRun   bool           `mapstructure:"dry_run"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram bot delivery.
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxBars int `mapstructure:"max_bars"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OIWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// bindLegacyEnv keeps the plain variable names used by existing deployments
// working next to the prefixed ones.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"database.dsn":                []string{"OIWATCH_DATABASE_DSN", "DATABASE_URL"},
		"alerting.telegram.bot_token": []string{"OIWATCH_ALERTING_TELEGRAM_BOT_TOKEN", "TELEGRAM_BOT_TOKEN"},
		"alerting.telegram.chat_id":   []string{"OIWATCH_ALERTING_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID"},
		"coinglass.api_key":           []string{"OIWATCH_COINGLASS_API_KEY", "COINGLASS_API_KEY"},
		"coinmarketcap.api_key":       []string{"OIWATCH_COINMARKETCAP_API_KEY", "COINMARKETCAP_API_KEY"},
		"binance.api_key":             []string{"OIWATCH_BINANCE_API_KEY", "BINANCE_API_KEY"},
		"binance.api_secret":          []string{"OIWATCH_BINANCE_API_SECRET", "BINANCE_API_SECRET"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "oiwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("analyzer.threshold", 10.0)
	v.SetDefault("analyzer.trigger", TriggerPoll)
	v.SetDefault("analyzer.poll_interval", "5m")
	v.SetDefault("analyzer.align_to_interval", false)
	v.SetDefault("analyzer.channel", "oi_observations")
	v.SetDefault("analyzer.push_fallback_interval", "0s")
	v.SetDefault("analyzer.advisory_lock_key", int64(0x6f69616e))
	v.SetDefault("analyzer.dispatch_queue", 256)
	v.SetDefault("analyzer.dispatch_timeout", "15s")
	v.SetDefault("analyzer.shutdown_timeout", "30s")

	v.SetDefault("collector.source", SourceCoinglass)
	v.SetDefault("collector.interval", "4h")
	v.SetDefault("collector.align_to_interval", true)
	v.SetDefault("collector.run_on_start", true)
	v.SetDefault("collector.top_n", 300)
	v.SetDefault("collector.batch_size", 20)
	v.SetDefault("collector.request_delay", "2s")
	v.SetDefault("collector.denylist", []string{"USDT", "USDC", "DAI", "BUSD", "TUSD", "USDP"})
	v.SetDefault("collector.deny_prefixes", []string{"W"})
	v.SetDefault("collector.advisory_lock_key", int64(0x6f69636f))

	v.SetDefault("coinglass.base_url", "https://open-api-v4.coinglass.com/api/futures")
	v.SetDefault("coinglass.interval", "h4")
	v.SetDefault("coinglass.request_timeout", "10s")

	v.SetDefault("coinmarketcap.base_url", "https://pro-api.coinmarketcap.com/v1")
	v.SetDefault("coinmarketcap.request_timeout", "15s")

	v.SetDefault("binance.period", "4h")
	v.SetDefault("binance.quote", "USDT")

	v.SetDefault("alerting.dry_run", false)
	v.SetDefault("alerting.telegram.enabled", true)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.request_timeout", "10s")

	v.SetDefault("export.max_bars", 40)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on values that are independent of the
// process role. Role-specific mandatory settings are checked by
// ValidateAnalyzer and ValidateCollector.
func (c *Config) Validate() error {
	if c.Analyzer.Threshold < 0 {
		return fmt.Errorf("analyzer.threshold cannot be negative")
	}
	switch c.Analyzer.Trigger {
	case TriggerPoll, TriggerPush:
	default:
		return fmt.Errorf("analyzer.trigger must be %q or %q, got %q", TriggerPoll, TriggerPush, c.Analyzer.Trigger)
	}
	if c.Analyzer.Trigger == TriggerPoll && c.Analyzer.PollInterval <= 0 {
		return fmt.Errorf("analyzer.poll_interval must be greater than zero")
	}
	if c.Analyzer.Channel != "" && !channelPattern.MatchString(c.Analyzer.Channel) {
		return fmt.Errorf("analyzer.channel %q is not a valid identifier", c.Analyzer.Channel)
	}
	if c.Analyzer.PushFallbackInterval < 0 {
		return fmt.Errorf("analyzer.push_fallback_interval cannot be negative")
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be %q or %q", DriverPostgres, DriverSQLite)
	}
	if c.Database.Driver == DriverSQLite && c.Analyzer.Trigger == TriggerPush {
		return fmt.Errorf("analyzer.trigger=push requires database.driver=%s", DriverPostgres)
	}
	switch c.Collector.Source {
	case SourceCoinglass, SourceBinance:
	default:
		return fmt.Errorf("collector.source must be %q or %q", SourceCoinglass, SourceBinance)
	}
	if c.Collector.Interval <= 0 {
		return fmt.Errorf("collector.interval must be greater than zero")
	}
	if c.Collector.BatchSize <= 0 {
		return fmt.Errorf("collector.batch_size must be greater than zero")
	}
	if c.Collector.TopN <= 0 {
		return fmt.Errorf("collector.top_n must be greater than zero")
	}
	if c.Export.MaxBars <= 0 {
		return fmt.Errorf("export.max_bars must be greater than zero")
	}
	return nil
}

// MissingSettingsError lists every mandatory setting absent at startup.
type MissingSettingsError struct {
	Role     string
	Settings []string
}

func (e *MissingSettingsError) Error() string {
	return fmt.Sprintf("%s: missing required settings: %s", e.Role, strings.Join(e.Settings, ", "))
}

// ValidateAnalyzer reports the settings the analyzer cannot start without.
func (c *Config) ValidateAnalyzer() error {
	var missing []string
	if c.Database.DSN == "" {
		missing = append(missing, "database.dsn (DATABASE_URL)")
	}
	if !c.Alerting.DryRun {
		if !c.Alerting.Telegram.Enabled {
			missing = append(missing, "alerting.telegram.enabled or alerting.dry_run")
		} else {
			if c.Alerting.Telegram.BotToken == "" {
				missing = append(missing, "alerting.telegram.bot_token (TELEGRAM_BOT_TOKEN)")
			}
			if c.Alerting.Telegram.ChatID == "" {
				missing = append(missing, "alerting.telegram.chat_id (TELEGRAM_CHAT_ID)")
			}
		}
	}
	if c.Analyzer.Trigger == TriggerPush && c.Analyzer.Channel == "" {
		missing = append(missing, "analyzer.channel")
	}
	if len(missing) > 0 {
		return &MissingSettingsError{Role: "analyzer", Settings: missing}
	}
	return nil
}

// ValidateTrigger checks the settings the given trigger mode depends on. The
// mode may differ from analyzer.trigger when overridden on the command line.
func (c *Config) ValidateTrigger(mode string) error {
	switch mode {
	case TriggerPoll:
		if c.Analyzer.PollInterval <= 0 {
			return fmt.Errorf("analyzer.poll_interval must be greater than zero for trigger %q", mode)
		}
	case TriggerPush:
		if c.Database.Driver == DriverSQLite {
			return fmt.Errorf("analyzer.trigger=push requires database.driver=%s", DriverPostgres)
		}
		if c.Analyzer.Channel == "" {
			return &MissingSettingsError{Role: "analyzer", Settings: []string{"analyzer.channel"}}
		}
		if !channelPattern.MatchString(c.Analyzer.Channel) {
			return fmt.Errorf("analyzer.channel %q is not a valid identifier", c.Analyzer.Channel)
		}
	default:
		return fmt.Errorf("analyzer.trigger must be %q or %q, got %q", TriggerPoll, TriggerPush, mode)
	}
	return nil
}

// ValidateCollector reports the settings the collector cannot start without.
func (c *Config) ValidateCollector() error {
	var missing []string
	if c.Database.DSN == "" {
		missing = append(missing, "database.dsn (DATABASE_URL)")
	}
	if c.CoinMarketCap.APIKey == "" {
		missing = append(missing, "coinmarketcap.api_key (COINMARKETCAP_API_KEY)")
	}
	if c.Collector.Source == SourceCoinglass && c.Coinglass.APIKey == "" {
		missing = append(missing, "coinglass.api_key (COINGLASS_API_KEY)")
	}
	if len(missing) > 0 {
		return &MissingSettingsError{Role: "collector", Settings: missing}
	}
	return nil
}

// ResolveMaxBars returns either the CLI override or config default.
func (c *Config) ResolveMaxBars(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxBars
}
