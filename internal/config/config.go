package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Providers   ProvidersConfig  `mapstructure:"providers"`
	MarketData  MarketDataConfig `mapstructure:"market_data"`
	Cache       CacheConfig      `mapstructure:"cache"`
	Archive     ArchiveConfig    `mapstructure:"archive"`
	Cleanup     CleanupConfig    `mapstructure:"cleanup"`
	Telemetry   TelemetryConfig  `mapstructure:"telemetry"`
	Sentry      SentryConfig     `mapstructure:"sentry"`
	Telegram    TelegramConfig   `mapstructure:"telegram"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ProvidersConfig fixes the venue fallback order for the life of the process.
// Order is priority: the first ready venue is tried first on every unpinned
// fetch.
type ProvidersConfig struct {
	Order          []string    `mapstructure:"order"`
	ParallelInit   bool        `mapstructure:"parallel_init"`
	RequestTimeout string      `mapstructure:"request_timeout"`
	Binance        VenueConfig `mapstructure:"binance"`
	Kraken         VenueConfig `mapstructure:"kraken"`
	Coinbase       VenueConfig `mapstructure:"coinbase"`
}

// VenueConfig carries per-venue credentials and rate-limit spacing. BaseURL is
// overridable for test fixtures and regional endpoints.
type VenueConfig struct {
	APIKey             string `mapstructure:"api_key" json:"-" yaml:"-"`
	APISecret          string `mapstructure:"api_secret" json:"-" yaml:"-"`
	BaseURL            string `mapstructure:"base_url"`
	MinRequestInterval string `mapstructure:"min_request_interval"`
}

type MarketDataConfig struct {
	Symbols         []string `mapstructure:"symbols"`
	Timeframe       string   `mapstructure:"timeframe"`
	HistoryLimit    int      `mapstructure:"history_limit"`
	RefreshInterval string   `mapstructure:"refresh_interval"`
	MaxCacheAge     string   `mapstructure:"max_cache_age"`
}

type CacheConfig struct {
	CatalogTTL  string `mapstructure:"catalog_ttl"`
	ResponseTTL string `mapstructure:"response_ttl"`
}

type ArchiveConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	QueueSize int  `mapstructure:"queue_size"`
	Workers   int  `mapstructure:"workers"`
}

type CleanupConfig struct {
	RetentionHours  int `mapstructure:"retention_hours"`
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	LogLevel       string `mapstructure:"log_level"`
}

type SentryConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	DSN              string  `mapstructure:"dsn" json:"-" yaml:"-"`
	Environment      string  `mapstructure:"environment"`
	Release          string  `mapstructure:"release"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token" json:"-" yaml:"-"`
	ChatID   int64  `mapstructure:"chat_id"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Set default values
	setDefaults()

	// Enable environment variable support
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Bind the secrets that arrive as flat environment variables
	envBindings := map[string]string{
		"telegram.bot_token":            "TELEGRAM_BOT_TOKEN",
		"telegram.chat_id":              "TELEGRAM_CHAT_ID",
		"sentry.dsn":                    "SENTRY_DSN",
		"database.database_url":         "DATABASE_URL",
		"providers.binance.api_key":     "BINANCE_API_KEY",
		"providers.binance.api_secret":  "BINANCE_API_SECRET",
		"providers.kraken.api_key":      "KRAKEN_API_KEY",
		"providers.kraken.api_secret":   "KRAKEN_API_SECRET",
		"providers.coinbase.api_key":    "COINBASE_API_KEY",
		"providers.coinbase.api_secret": "COINBASE_API_SECRET",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s environment variable: %w", env, err)
		}
	}

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Normalize environment to lowercase for consistent comparison
	config.Environment = strings.ToLower(config.Environment)

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in 1..65535, got %d", c.Server.Port)
	}

	if len(c.Providers.Order) == 0 {
		return errors.New("providers.order must list at least one venue")
	}
	seen := make(map[string]bool, len(c.Providers.Order))
	for _, name := range c.Providers.Order {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return errors.New("providers.order contains an empty venue name")
		}
		if seen[name] {
			return fmt.Errorf("providers.order lists %q twice", name)
		}
		seen[name] = true
	}

	if c.MarketData.HistoryLimit <= 0 {
		return fmt.Errorf("market_data.history_limit must be positive, got %d", c.MarketData.HistoryLimit)
	}
	if c.MarketData.Timeframe == "" {
		return errors.New("market_data.timeframe must not be empty")
	}

	durations := []struct {
		key   string
		value string
	}{
		{"providers.request_timeout", c.Providers.RequestTimeout},
		{"providers.binance.min_request_interval", c.Providers.Binance.MinRequestInterval},
		{"providers.kraken.min_request_interval", c.Providers.Kraken.MinRequestInterval},
		{"providers.coinbase.min_request_interval", c.Providers.Coinbase.MinRequestInterval},
		{"market_data.refresh_interval", c.MarketData.RefreshInterval},
		{"market_data.max_cache_age", c.MarketData.MaxCacheAge},
		{"cache.catalog_ttl", c.Cache.CatalogTTL},
		{"cache.response_ttl", c.Cache.ResponseTTL},
		{"database.conn_max_lifetime", c.Database.ConnMaxLifetime},
		{"database.conn_max_idle_time", c.Database.ConnMaxIdleTime},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", d.key, err)
		}
	}

	if c.Sentry.TracesSampleRate < 0 || c.Sentry.TracesSampleRate > 1 {
		return fmt.Errorf("sentry.traces_sample_rate must be in [0,1], got %v", c.Sentry.TracesSampleRate)
	}

	if c.Cleanup.RetentionHours <= 0 {
		return fmt.Errorf("cleanup.retention_hours must be positive, got %d", c.Cleanup.RetentionHours)
	}

	return nil
}

// Duration parses a duration config value, falling back when the value is empty
// or malformed. Validation already rejected malformed values on the Load path,
// so the fallback mostly serves hand-built test configs.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "barfeed")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "300s")
	viper.SetDefault("database.conn_max_idle_time", "60s")

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Providers: order doubles as fallback priority
	viper.SetDefault("providers.order", []string{"binance", "kraken", "coinbase"})
	viper.SetDefault("providers.parallel_init", false)
	viper.SetDefault("providers.request_timeout", "30s")
	viper.SetDefault("providers.binance.min_request_interval", "250ms")
	viper.SetDefault("providers.kraken.min_request_interval", "1s")
	viper.SetDefault("providers.coinbase.min_request_interval", "350ms")

	// Market data
	viper.SetDefault("market_data.symbols", []string{"BTC/USDT"})
	viper.SetDefault("market_data.timeframe", "1h")
	viper.SetDefault("market_data.history_limit", 1000)
	viper.SetDefault("market_data.refresh_interval", "5m")
	viper.SetDefault("market_data.max_cache_age", "5m")

	// Cache
	viper.SetDefault("cache.catalog_ttl", "6h")
	viper.SetDefault("cache.response_ttl", "30s")

	// Archive
	viper.SetDefault("archive.enabled", true)
	viper.SetDefault("archive.queue_size", 256)
	viper.SetDefault("archive.workers", 2)

	// Cleanup
	viper.SetDefault("cleanup.retention_hours", 72)
	viper.SetDefault("cleanup.interval_minutes", 60)

	// Telemetry
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.otlp_endpoint", "")
	viper.SetDefault("telemetry.service_name", "barfeed")
	viper.SetDefault("telemetry.service_version", "1.0.0")
	viper.SetDefault("telemetry.log_level", "info")

	// Sentry
	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.environment", "")
	viper.SetDefault("sentry.release", "")
	viper.SetDefault("sentry.traces_sample_rate", 0.2)

	// Telegram
	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.chat_id", 0)
}
