// Package config exposes strongly typed application configuration structs loaded from YAML
// with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name" env:"APP_NAME"`
	Env         string `yaml:"env" env:"APP_ENV"`
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat   string `yaml:"log_format" env:"LOG_FORMAT"`
}

// API configures the read-only HTTP query surface. An empty Addr disables it.
type API struct {
	Addr string `yaml:"addr" env:"API_ADDR"`
}

// Exchange describes venue connectivity for the live feed and REST endpoints.
type Exchange struct {
	Provider       string   `yaml:"provider" env:"EXCHANGE_PROVIDER"`
	RestURL        string   `yaml:"rest_url" env:"EXCHANGE_REST_URL"`
	WebsocketURL   string   `yaml:"ws_url" env:"EXCHANGE_WS_URL"`
	Products       []string `yaml:"products" env:"EXCHANGE_PRODUCTS" envSeparator:","`
	RateLimit      float64  `yaml:"rate_limit_rps" env:"EXCHANGE_RATE_LIMIT_RPS"`
	RateBurst      int      `yaml:"rate_burst" env:"EXCHANGE_RATE_BURST"`
	TradePageLimit int      `yaml:"trade_page_limit" env:"EXCHANGE_TRADE_PAGE_LIMIT"`
	HTTPTimeoutMs  int      `yaml:"http_timeout_ms" env:"EXCHANGE_HTTP_TIMEOUT_MS"`
}

// Merge tunes the REST/live trade reconciliation.
type Merge struct {
	CooldownMs       int `yaml:"cooldown_ms" env:"MERGE_COOLDOWN_MS"`
	MaxFetchAttempts int `yaml:"max_fetch_attempts" env:"MERGE_MAX_FETCH_ATTEMPTS"`
	HistoryPages     int `yaml:"history_pages" env:"MERGE_HISTORY_PAGES"`
	MaxPending       int `yaml:"max_pending" env:"MERGE_MAX_PENDING"`
}

// Sync tunes the REST candle bootstrap and the optional audit.
type Sync struct {
	RetryIntervalMs int `yaml:"retry_interval_ms" env:"SYNC_RETRY_INTERVAL_MS"`
	MaxAttempts     int `yaml:"max_attempts" env:"SYNC_MAX_ATTEMPTS"`
	AuditIntervalMs int `yaml:"audit_interval_ms" env:"SYNC_AUDIT_INTERVAL_MS"`
}

// History bounds the in-memory candle and price series.
type History struct {
	MaxCandles  int `yaml:"max_candles" env:"HISTORY_MAX_CANDLES"`
	PriceWindow int `yaml:"price_window" env:"HISTORY_PRICE_WINDOW"`
}

// Indicators groups the rolling indicator parameters.
type Indicators struct {
	SMAPeriod    int     `yaml:"sma_period" env:"INDICATORS_SMA_PERIOD"`
	BBPeriod     int     `yaml:"bb_period" env:"INDICATORS_BB_PERIOD"`
	BBMultiplier float64 `yaml:"bb_multiplier" env:"INDICATORS_BB_MULTIPLIER"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App        `yaml:"app"`
	API        API        `yaml:"api"`
	Exchange   Exchange   `yaml:"exchange"`
	Merge      Merge      `yaml:"merge"`
	Sync       Sync       `yaml:"sync"`
	History    History    `yaml:"history"`
	Indicators Indicators `yaml:"indicators"`
}

const (
	DefaultRestURL      = "https://api.exchange.coinbase.com"
	DefaultWebsocketURL = "wss://ws-feed.exchange.coinbase.com"
)

// Default returns a configuration usable without any file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML file from disk, applies .env and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	_ = godotenv.Load() // best-effort
	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "candlefeed"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Exchange.Provider == "" {
		c.Exchange.Provider = "coinbase"
	}
	if c.Exchange.RestURL == "" {
		c.Exchange.RestURL = DefaultRestURL
	}
	if c.Exchange.WebsocketURL == "" {
		c.Exchange.WebsocketURL = DefaultWebsocketURL
	}
	if c.Exchange.RateLimit <= 0 {
		c.Exchange.RateLimit = 8
	}
	if c.Exchange.RateBurst <= 0 {
		c.Exchange.RateBurst = 15
	}
	if c.Exchange.TradePageLimit <= 0 {
		c.Exchange.TradePageLimit = 200
	}
	if c.Exchange.HTTPTimeoutMs <= 0 {
		c.Exchange.HTTPTimeoutMs = 10_000
	}
	if c.Merge.CooldownMs <= 0 {
		c.Merge.CooldownMs = 2_000
	}
	if c.Merge.MaxFetchAttempts <= 0 {
		c.Merge.MaxFetchAttempts = 10
	}
	if c.Merge.HistoryPages <= 0 {
		c.Merge.HistoryPages = 1
	}
	if c.Merge.MaxPending <= 0 {
		c.Merge.MaxPending = 1_000
	}
	if c.Sync.RetryIntervalMs <= 0 {
		c.Sync.RetryIntervalMs = 350
	}
	if c.Sync.MaxAttempts <= 0 {
		c.Sync.MaxAttempts = 200
	}
	if c.History.MaxCandles <= 0 {
		c.History.MaxCandles = 10_000
	}
	if c.History.PriceWindow <= 0 {
		c.History.PriceWindow = 100
	}
	if c.Indicators.SMAPeriod <= 0 {
		c.Indicators.SMAPeriod = 7
	}
	if c.Indicators.BBPeriod <= 0 {
		c.Indicators.BBPeriod = 20
	}
	if c.Indicators.BBMultiplier <= 0 {
		c.Indicators.BBMultiplier = 2
	}
}

// Validate reports configuration combinations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Exchange.Products) == 0 {
		errs = append(errs, errors.New("exchange.products must list at least one product"))
	}
	for _, p := range c.Exchange.Products {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, errors.New("exchange.products contains an empty product id"))
		}
	}
	switch strings.ToLower(c.Exchange.Provider) {
	case "coinbase", "stub":
	default:
		errs = append(errs, fmt.Errorf("exchange.provider %q is not supported", c.Exchange.Provider))
	}
	longest := c.Indicators.SMAPeriod
	if c.Indicators.BBPeriod > longest {
		longest = c.Indicators.BBPeriod
	}
	if c.History.PriceWindow < longest {
		errs = append(errs, fmt.Errorf("history.price_window (%d) must cover the longest indicator period (%d)", c.History.PriceWindow, longest))
	}
	return errors.Join(errs...)
}

func (e Exchange) HTTPTimeout() time.Duration { return ms(e.HTTPTimeoutMs) }

func (m Merge) Cooldown() time.Duration { return ms(m.CooldownMs) }

func (s Sync) RetryInterval() time.Duration { return ms(s.RetryIntervalMs) }

// AuditInterval is zero when the periodic audit is disabled.
func (s Sync) AuditInterval() time.Duration { return ms(s.AuditIntervalMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
