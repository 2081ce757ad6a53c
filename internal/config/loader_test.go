package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Engine.Mode != "paper" {
		t.Errorf("default mode = %q, want paper", cfg.Engine.Mode)
	}
	if cfg.Engine.Venue != "binance" {
		t.Errorf("default venue = %q, want binance", cfg.Engine.Venue)
	}
	if cfg.Engine.PendingTTL.Duration != 24*time.Hour {
		t.Errorf("default pending_ttl = %v, want 24h", cfg.Engine.PendingTTL.Duration)
	}
	if cfg.Risk.KillSwitchPct != 20 {
		t.Errorf("default kill_switch_pct = %v, want 20", cfg.Risk.KillSwitchPct)
	}
	if cfg.Heartbeat.Interval.Duration != 60*time.Second {
		t.Errorf("default heartbeat interval = %v, want 60s", cfg.Heartbeat.Interval.Duration)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults() should validate cleanly, got: %v", err)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[engine]
mode = "semi_auto"
venue = "dexswap"
leverage = 5
pending_ttl = "2h"
symbols = ["ETHUSDT", "SOLUSDT"]

[risk]
daily_loss_limit_usd = 750.0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.Mode != "semi_auto" || cfg.Engine.Venue != "dexswap" {
		t.Errorf("engine = %+v, want file values", cfg.Engine)
	}
	if cfg.Engine.PendingTTL.Duration != 2*time.Hour {
		t.Errorf("pending_ttl = %v, want 2h", cfg.Engine.PendingTTL.Duration)
	}
	if len(cfg.Engine.Symbols) != 2 || cfg.Engine.Symbols[0] != "ETHUSDT" {
		t.Errorf("symbols = %v", cfg.Engine.Symbols)
	}
	if cfg.Risk.DailyLossLimitUSD != 750 {
		t.Errorf("daily_loss_limit_usd = %v, want 750", cfg.Risk.DailyLossLimitUSD)
	}
	// Untouched sections keep their defaults.
	if cfg.Risk.KillSwitchPct != 20 {
		t.Errorf("kill_switch_pct = %v, want default 20", cfg.Risk.KillSwitchPct)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis addr = %q, want default", cfg.Redis.Addr)
	}
}

func TestLoadEnvOverridesWinOverFile(t *testing.T) {
	path := writeConfig(t, `
[engine]
mode = "paper"
leverage = 3
`)

	t.Setenv("TRADEGATE_ENGINE_MODE", "auto")
	t.Setenv("TRADEGATE_ENGINE_LEVERAGE", "7")
	t.Setenv("TRADEGATE_ENGINE_SYMBOLS", "BTCUSDT, ETHUSDT")
	t.Setenv("TRADEGATE_BINANCE_API_KEY", "env-key")
	t.Setenv("TRADEGATE_HEARTBEAT_INTERVAL", "90s")
	t.Setenv("TRADEGATE_TELEGRAM_ALLOWED_CHAT_IDS", "123, 456")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.Mode != "auto" {
		t.Errorf("mode = %q, want env override auto", cfg.Engine.Mode)
	}
	if cfg.Engine.Leverage != 7 {
		t.Errorf("leverage = %d, want 7", cfg.Engine.Leverage)
	}
	if len(cfg.Engine.Symbols) != 2 || cfg.Engine.Symbols[1] != "ETHUSDT" {
		t.Errorf("symbols = %v, want trimmed comma-split", cfg.Engine.Symbols)
	}
	if cfg.Binance.ApiKey != "env-key" {
		t.Errorf("api key = %q, want env-key", cfg.Binance.ApiKey)
	}
	if cfg.Heartbeat.Interval.Duration != 90*time.Second {
		t.Errorf("heartbeat interval = %v, want 90s", cfg.Heartbeat.Interval.Duration)
	}
	if len(cfg.Telegram.AllowedChatIDs) != 2 || cfg.Telegram.AllowedChatIDs[0] != 123 {
		t.Errorf("allowed chat IDs = %v, want [123 456]", cfg.Telegram.AllowedChatIDs)
	}
}

func TestInt64SliceRejectsPartialGarbage(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.AllowedChatIDs = []int64{999}

	t.Setenv("TRADEGATE_TELEGRAM_ALLOWED_CHAT_IDS", "123,abc")
	applyEnvOverrides(&cfg)

	// One bad entry discards the whole override rather than applying half.
	if len(cfg.Telegram.AllowedChatIDs) != 1 || cfg.Telegram.AllowedChatIDs[0] != 999 {
		t.Errorf("chat IDs = %v, want original [999]", cfg.Telegram.AllowedChatIDs)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.toml"); err == nil {
		t.Error("Load() with a missing file must fail")
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.Mode = "yolo"
	cfg.Engine.Leverage = 0
	cfg.Risk.KillSwitchPct = 150
	cfg.Risk.BracketPolicy = "martingale"
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should fail")
	}
	msg := err.Error()
	for _, want := range []string{"unknown mode", "leverage must be 1-125", "kill_switch_pct", "bracket_policy", "redis: addr"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q:\n%s", want, msg)
		}
	}
}

func TestValidateLiveModeRequiresCredentials(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			"binance live without key",
			func(c *Config) { c.Engine.Mode = "auto" },
			"binance: api_key or encrypted_creds_path",
		},
		{
			"dexswap live without signing key",
			func(c *Config) {
				c.Engine.Mode = "semi_auto"
				c.Engine.Venue = "dexswap"
			},
			"dexswap: signing_key or encrypted_key_path",
		},
		{
			"encrypted path without password",
			func(c *Config) {
				c.Engine.Mode = "auto"
				c.Binance.EncryptedCredsPath = "/etc/creds.json"
			},
			"binance: creds_password is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidatePaperModeSkipsCredentialChecks(t *testing.T) {
	cfg := Defaults() // paper mode, no credentials anywhere
	if err := cfg.Validate(); err != nil {
		t.Errorf("paper mode must not require venue credentials: %v", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Binance.ApiKey = "live-key"
	cfg.Binance.ApiSecret = "live-secret"
	cfg.Dexswap.SigningKey = "deadbeef"
	cfg.Postgres.Password = "pgpass"
	cfg.Redis.Password = "redispass"
	cfg.S3.SecretKey = "s3secret"
	cfg.Telegram.BotToken = "bot-token"

	red := RedactedConfig(&cfg)

	for name, got := range map[string]string{
		"binance api_key":    red.Binance.ApiKey,
		"binance api_secret": red.Binance.ApiSecret,
		"dexswap signing":    red.Dexswap.SigningKey,
		"postgres password":  red.Postgres.Password,
		"redis password":     red.Redis.Password,
		"s3 secret":          red.S3.SecretKey,
		"telegram bot token": red.Telegram.BotToken,
	} {
		if got != "***" {
			t.Errorf("%s = %q, want ***", name, got)
		}
	}

	// The original is untouched.
	if cfg.Binance.ApiKey != "live-key" {
		t.Error("RedactedConfig() mutated the source config")
	}

	// Slices are copies, not aliases.
	red.Engine.Symbols[0] = "mutated"
	if cfg.Engine.Symbols[0] == "mutated" {
		t.Error("redacted config shares the symbols slice with the original")
	}
}
