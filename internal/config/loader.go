package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADEGATE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADEGATE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.Mode, "TRADEGATE_ENGINE_MODE")
	setStr(&cfg.Engine.Venue, "TRADEGATE_ENGINE_VENUE")
	setInt(&cfg.Engine.Leverage, "TRADEGATE_ENGINE_LEVERAGE")
	setStr(&cfg.Engine.QuoteAsset, "TRADEGATE_ENGINE_QUOTE_ASSET")
	setFloat64(&cfg.Engine.PaperBalance, "TRADEGATE_ENGINE_PAPER_BALANCE")
	setDuration(&cfg.Engine.PendingTTL, "TRADEGATE_ENGINE_PENDING_TTL")
	setStr(&cfg.Engine.MarginType, "TRADEGATE_ENGINE_MARGIN_TYPE")
	setStringSlice(&cfg.Engine.Symbols, "TRADEGATE_ENGINE_SYMBOLS")
	setStr(&cfg.Engine.StrategyID, "TRADEGATE_ENGINE_STRATEGY_ID")
	setStr(&cfg.Engine.SignalStream, "TRADEGATE_ENGINE_SIGNAL_STREAM")
	setInt(&cfg.Engine.ArchiveRetentionDays, "TRADEGATE_ENGINE_ARCHIVE_RETENTION_DAYS")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxPositionPct, "TRADEGATE_RISK_MAX_POSITION_PCT")
	setInt(&cfg.Risk.MaxLeverage, "TRADEGATE_RISK_MAX_LEVERAGE")
	setFloat64(&cfg.Risk.RiskPerTradePct, "TRADEGATE_RISK_RISK_PER_TRADE_PCT")
	setFloat64(&cfg.Risk.DailyLossLimitUSD, "TRADEGATE_RISK_DAILY_LOSS_LIMIT_USD")
	setFloat64(&cfg.Risk.KillSwitchPct, "TRADEGATE_RISK_KILL_SWITCH_PCT")
	setInt(&cfg.Risk.MaxPositions, "TRADEGATE_RISK_MAX_POSITIONS")
	setStr(&cfg.Risk.BracketPolicy, "TRADEGATE_RISK_BRACKET_POLICY")
	setFloat64(&cfg.Risk.TakeProfitRatio, "TRADEGATE_RISK_TAKE_PROFIT_RATIO")
	setFloat64(&cfg.Risk.TargetPct, "TRADEGATE_RISK_TARGET_PCT")
	setFloat64(&cfg.Risk.SecondTargetPct, "TRADEGATE_RISK_SECOND_TARGET_PCT")
	setFloat64(&cfg.Risk.ATRMultiplier, "TRADEGATE_RISK_ATR_MULTIPLIER")

	// ── Binance ──
	setStr(&cfg.Binance.ApiKey, "TRADEGATE_BINANCE_API_KEY")
	setStr(&cfg.Binance.ApiSecret, "TRADEGATE_BINANCE_API_SECRET")
	setStr(&cfg.Binance.EncryptedCredsPath, "TRADEGATE_BINANCE_ENCRYPTED_CREDS_PATH")
	setStr(&cfg.Binance.CredsPassword, "TRADEGATE_BINANCE_CREDS_PASSWORD")
	setBool(&cfg.Binance.Testnet, "TRADEGATE_BINANCE_TESTNET")

	// ── Dexswap ──
	setStr(&cfg.Dexswap.BaseURL, "TRADEGATE_DEXSWAP_BASE_URL")
	setStr(&cfg.Dexswap.WsURL, "TRADEGATE_DEXSWAP_WS_URL")
	setStr(&cfg.Dexswap.ApiKey, "TRADEGATE_DEXSWAP_API_KEY")
	setStr(&cfg.Dexswap.ApiSecret, "TRADEGATE_DEXSWAP_API_SECRET")
	setStr(&cfg.Dexswap.SigningKey, "TRADEGATE_DEXSWAP_SIGNING_KEY")
	setStr(&cfg.Dexswap.EncryptedKeyPath, "TRADEGATE_DEXSWAP_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Dexswap.KeyPassword, "TRADEGATE_DEXSWAP_KEY_PASSWORD")
	setInt(&cfg.Dexswap.ChainID, "TRADEGATE_DEXSWAP_CHAIN_ID")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRADEGATE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADEGATE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADEGATE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADEGATE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADEGATE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADEGATE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADEGATE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADEGATE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADEGATE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADEGATE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADEGATE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEGATE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEGATE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEGATE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEGATE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEGATE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TRADEGATE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADEGATE_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADEGATE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADEGATE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADEGATE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADEGATE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADEGATE_S3_FORCE_PATH_STYLE")

	// ── Heartbeat ──
	setDuration(&cfg.Heartbeat.Interval, "TRADEGATE_HEARTBEAT_INTERVAL")
	setInt(&cfg.Heartbeat.MaxConsecutiveErrors, "TRADEGATE_HEARTBEAT_MAX_CONSECUTIVE_ERRORS")

	// ── Retry ──
	setInt(&cfg.Retry.MaxAttempts, "TRADEGATE_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.BaseDelay, "TRADEGATE_RETRY_BASE_DELAY")
	setDuration(&cfg.Retry.MaxDelay, "TRADEGATE_RETRY_MAX_DELAY")
	setFloat64(&cfg.Retry.Multiplier, "TRADEGATE_RETRY_MULTIPLIER")

	// ── Breaker ──
	setInt(&cfg.Breaker.FailureThreshold, "TRADEGATE_BREAKER_FAILURE_THRESHOLD")
	setDuration(&cfg.Breaker.ResetTimeout, "TRADEGATE_BREAKER_RESET_TIMEOUT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADEGATE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEGATE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADEGATE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADEGATE_NOTIFY_EVENTS")

	// ── Telegram bot ──
	setBool(&cfg.Telegram.Enabled, "TRADEGATE_TELEGRAM_ENABLED")
	setStr(&cfg.Telegram.BotToken, "TRADEGATE_TELEGRAM_BOT_TOKEN")
	setInt64Slice(&cfg.Telegram.AllowedChatIDs, "TRADEGATE_TELEGRAM_ALLOWED_CHAT_IDS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "TRADEGATE_METRICS_ENABLED")
	setInt(&cfg.Metrics.Port, "TRADEGATE_METRICS_PORT")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "TRADEGATE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

func setInt64Slice(dst *[]int64, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		parsed := make([]int64, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			n, err := strconv.ParseInt(p, 10, 64)
			if err != nil {
				return
			}
			parsed = append(parsed, n)
		}
		if len(parsed) > 0 {
			*dst = parsed
		}
	}
}
