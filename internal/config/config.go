// Package config defines the top-level configuration for the trading
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TRADEGATE_* environment
// variables.
type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Risk      RiskConfig      `toml:"risk"`
	Binance   BinanceConfig   `toml:"binance"`
	Dexswap   DexswapConfig   `toml:"dexswap"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Retry     RetryConfig     `toml:"retry"`
	Breaker   BreakerConfig   `toml:"breaker"`
	Notify    NotifyConfig    `toml:"notify"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Metrics   MetricsConfig   `toml:"metrics"`
	LogLevel  string          `toml:"log_level"`
}

// EngineConfig holds the mode state machine and execution parameters.
type EngineConfig struct {
	// Mode is the starting operating mode: "paper", "semi_auto", or "auto".
	Mode string `toml:"mode"`
	// Venue selects the execution venue: "binance" or "dexswap".
	Venue        string   `toml:"venue"`
	Leverage     int      `toml:"leverage"`
	QuoteAsset   string   `toml:"quote_asset"`
	PaperBalance float64  `toml:"paper_balance"`
	PendingTTL   duration `toml:"pending_ttl"`
	// MarginType is applied to each traded symbol at startup ("ISOLATED"
	// or "CROSSED").
	MarginType string `toml:"margin_type"`
	// Symbols are the markets the engine trades and watches.
	Symbols []string `toml:"symbols"`
	// StrategyID tags trades originated by this deployment.
	StrategyID string `toml:"strategy_id"`
	// SignalStream is the bus stream scanned for inbound signals.
	SignalStream string `toml:"signal_stream"`
	// ArchiveRetentionDays controls when trades move to cold storage.
	ArchiveRetentionDays int `toml:"archive_retention_days"`
}

// RiskConfig holds the sizing and loss-control parameters.
type RiskConfig struct {
	MaxPositionPct    float64 `toml:"max_position_pct"`
	MaxLeverage       int     `toml:"max_leverage"`
	RiskPerTradePct   float64 `toml:"risk_per_trade_pct"`
	DailyLossLimitUSD float64 `toml:"daily_loss_limit_usd"`
	KillSwitchPct     float64 `toml:"kill_switch_pct"`
	MaxPositions      int     `toml:"max_positions"`
	// BracketPolicy selects how take-profit levels are derived: "ratio"
	// places them at risk-reward multiples of the stop distance,
	// "fixed_pct" at fixed percentages of the entry price.
	BracketPolicy string `toml:"bracket_policy"`
	// TakeProfitRatio is the risk-reward multiple of the first target
	// under the ratio policy.
	TakeProfitRatio float64 `toml:"take_profit_ratio"`
	// TargetPct and SecondTargetPct are the target distances from entry,
	// in percent, under the fixed_pct policy.
	TargetPct       float64 `toml:"target_pct"`
	SecondTargetPct float64 `toml:"second_target_pct"`
	ATRMultiplier   float64 `toml:"atr_multiplier"`
}

// BinanceConfig holds Binance futures API credentials.
type BinanceConfig struct {
	ApiKey    string `toml:"api_key"`
	ApiSecret string `toml:"api_secret"`
	// EncryptedCredsPath points at an encrypted credential blob used when
	// api_key/api_secret are not set directly.
	EncryptedCredsPath string `toml:"encrypted_creds_path"`
	CredsPassword      string `toml:"creds_password"`
	Testnet            bool   `toml:"testnet"`
}

// DexswapConfig holds the dexswap gateway endpoints and signing material.
type DexswapConfig struct {
	BaseURL          string `toml:"base_url"`
	WsURL            string `toml:"ws_url"`
	ApiKey           string `toml:"api_key"`
	ApiSecret        string `toml:"api_secret"`
	SigningKey       string `toml:"signing_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	ChainID          int    `toml:"chain_id"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// HeartbeatConfig tunes the supervisory loop.
type HeartbeatConfig struct {
	Interval             duration `toml:"interval"`
	MaxConsecutiveErrors int      `toml:"max_consecutive_errors"`
}

// RetryConfig tunes the retry wrapper around venue calls.
type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   duration `toml:"base_delay"`
	MaxDelay    duration `toml:"max_delay"`
	Multiplier  float64  `toml:"multiplier"`
}

// BreakerConfig tunes the circuit breaker around venue calls.
type BreakerConfig struct {
	FailureThreshold int      `toml:"failure_threshold"`
	ResetTimeout     duration `toml:"reset_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// TelegramConfig holds the operator bot parameters. The bot token is
// separate from the notify token: one account talks, the other listens.
type TelegramConfig struct {
	Enabled        bool    `toml:"enabled"`
	BotToken       string  `toml:"bot_token"`
	AllowedChatIDs []int64 `toml:"allowed_chat_ids"`
}

// MetricsConfig holds the Prometheus scrape endpoint parameters.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder
// can parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			Mode:                 "paper",
			Venue:                "binance",
			Leverage:             3,
			QuoteAsset:           "USDT",
			PaperBalance:         10_000,
			PendingTTL:           duration{24 * time.Hour},
			MarginType:           "ISOLATED",
			Symbols:              []string{"BTCUSDT"},
			StrategyID:           "default",
			SignalStream:         "signals",
			ArchiveRetentionDays: 90,
		},
		Risk: RiskConfig{
			MaxPositionPct:    10.0,
			MaxLeverage:       10,
			RiskPerTradePct:   2.0,
			DailyLossLimitUSD: 500.0,
			KillSwitchPct:     20.0,
			MaxPositions:      5,
			BracketPolicy:     "ratio",
			TakeProfitRatio:   2.0,
			TargetPct:         30.0,
			SecondTargetPct:   60.0,
			ATRMultiplier:     2.0,
		},
		Binance: BinanceConfig{
			Testnet: true,
		},
		Dexswap: DexswapConfig{
			BaseURL: "https://gateway.dexswap.io",
			WsURL:   "wss://stream.dexswap.io/ws",
			ChainID: 42161,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradegate",
			User:          "tradegate",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradegate-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Heartbeat: HeartbeatConfig{
			Interval:             duration{60 * time.Second},
			MaxConsecutiveErrors: 5,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   duration{500 * time.Millisecond},
			MaxDelay:    duration{30 * time.Second},
			Multiplier:  2.0,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     duration{60 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "signal_queued", "kill_switch", "error"},
		},
		Telegram: TelegramConfig{
			Enabled: false,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9100,
		},
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Engine.Mode.
var validModes = map[string]bool{
	"paper":     true,
	"semi_auto": true,
	"auto":      true,
}

// validVenues enumerates the accepted values for Engine.Venue.
var validVenues = map[string]bool{
	"binance": true,
	"dexswap": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Engine
	if !validModes[strings.ToLower(c.Engine.Mode)] {
		errs = append(errs, fmt.Sprintf("engine: unknown mode %q (valid: paper, semi_auto, auto)", c.Engine.Mode))
	}
	if !validVenues[strings.ToLower(c.Engine.Venue)] {
		errs = append(errs, fmt.Sprintf("engine: unknown venue %q (valid: binance, dexswap)", c.Engine.Venue))
	}
	if c.Engine.Leverage < 1 || c.Engine.Leverage > 125 {
		errs = append(errs, fmt.Sprintf("engine: leverage must be 1-125, got %d", c.Engine.Leverage))
	}
	if len(c.Engine.Symbols) == 0 {
		errs = append(errs, "engine: at least one symbol is required")
	}
	if c.Engine.PaperBalance <= 0 {
		errs = append(errs, "engine: paper_balance must be > 0")
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Risk
	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 100 {
		errs = append(errs, fmt.Sprintf("risk: max_position_pct must be in (0,100], got %v", c.Risk.MaxPositionPct))
	}
	if c.Risk.RiskPerTradePct <= 0 || c.Risk.RiskPerTradePct > 100 {
		errs = append(errs, fmt.Sprintf("risk: risk_per_trade_pct must be in (0,100], got %v", c.Risk.RiskPerTradePct))
	}
	if c.Risk.KillSwitchPct <= 0 || c.Risk.KillSwitchPct > 100 {
		errs = append(errs, fmt.Sprintf("risk: kill_switch_pct must be in (0,100], got %v", c.Risk.KillSwitchPct))
	}
	if c.Risk.MaxLeverage < 1 || c.Risk.MaxLeverage > 125 {
		errs = append(errs, fmt.Sprintf("risk: max_leverage must be 1-125, got %d", c.Risk.MaxLeverage))
	}
	if c.Risk.DailyLossLimitUSD <= 0 {
		errs = append(errs, "risk: daily_loss_limit_usd must be > 0")
	}
	if c.Risk.MaxPositions < 1 {
		errs = append(errs, "risk: max_positions must be >= 1")
	}
	switch strings.ToLower(c.Risk.BracketPolicy) {
	case "", "ratio", "fixed_pct":
	default:
		errs = append(errs, fmt.Sprintf("risk: unknown bracket_policy %q (valid: ratio, fixed_pct)", c.Risk.BracketPolicy))
	}
	if c.Risk.TargetPct < 0 || c.Risk.SecondTargetPct < 0 {
		errs = append(errs, "risk: target_pct and second_target_pct must be >= 0")
	}

	// Venue credentials matter only outside paper mode.
	live := strings.ToLower(c.Engine.Mode) != "paper"
	if live {
		switch strings.ToLower(c.Engine.Venue) {
		case "binance":
			if c.Binance.ApiKey == "" && c.Binance.EncryptedCredsPath == "" {
				errs = append(errs, "binance: api_key or encrypted_creds_path is required for live modes")
			}
			if c.Binance.EncryptedCredsPath != "" && c.Binance.CredsPassword == "" {
				errs = append(errs, "binance: creds_password is required when encrypted_creds_path is set")
			}
		case "dexswap":
			if c.Dexswap.BaseURL == "" {
				errs = append(errs, "dexswap: base_url must not be empty")
			}
			if c.Dexswap.SigningKey == "" && c.Dexswap.EncryptedKeyPath == "" {
				errs = append(errs, "dexswap: signing_key or encrypted_key_path is required for live modes")
			}
			if c.Dexswap.EncryptedKeyPath != "" && c.Dexswap.KeyPassword == "" {
				errs = append(errs, "dexswap: key_password is required when encrypted_key_path is set")
			}
			if c.Dexswap.ChainID <= 0 {
				errs = append(errs, "dexswap: chain_id must be positive")
			}
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Heartbeat
	if c.Heartbeat.Interval.Duration <= 0 {
		errs = append(errs, "heartbeat: interval must be > 0")
	}
	if c.Heartbeat.MaxConsecutiveErrors < 1 {
		errs = append(errs, "heartbeat: max_consecutive_errors must be >= 1")
	}

	// Retry / breaker
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry: max_attempts must be >= 1")
	}
	if c.Breaker.FailureThreshold < 1 {
		errs = append(errs, "breaker: failure_threshold must be >= 1")
	}

	// Telegram
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			errs = append(errs, "telegram: bot_token is required when enabled")
		}
		if len(c.Telegram.AllowedChatIDs) == 0 {
			errs = append(errs, "telegram: allowed_chat_ids must not be empty when enabled")
		}
	}

	// Metrics
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			errs = append(errs, fmt.Sprintf("metrics: port must be 1-65535, got %d", c.Metrics.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
