package risk

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/quantfall/tradegate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		MaxPositionPct:    10,
		MaxLeverage:       10,
		RiskPerTradePct:   2,
		DailyLossLimitUSD: 500,
		KillSwitchPct:     20,
		MaxPositions:      5,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPositionSize(t *testing.T) {
	tests := []struct {
		name    string
		riskPct float64
		maxPct  float64
		balance float64
		entry   float64
		stop    float64
		want    float64
	}{
		// risk = 10000*1% = 100, dist = 1000 -> 0.1; cap = 10000/50000 = 0.2.
		{"sized by stop distance", 1, 100, 10000, 50000, 49000, 0.1},
		// Same trade under a 10% cap: 0.2 > 1000/50000 = 0.02 -> capped.
		{"capped by max position", 2, 10, 10000, 50000, 49000, 0.02},
		{"zero when stop equals entry", 2, 10, 10000, 50000, 50000, 0},
		{"zero on zero balance", 2, 10, 0, 50000, 49000, 0},
		{"zero on non-positive entry", 2, 10, 10000, 0, -10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.RiskPerTradePct = tt.riskPct
			cfg.MaxPositionPct = tt.maxPct
			m := NewManager(cfg, testLogger())

			got := m.PositionSize(tt.balance, tt.entry, tt.stop)
			if !almostEqual(got, tt.want) {
				t.Errorf("PositionSize(%v, %v, %v) = %v, want %v",
					tt.balance, tt.entry, tt.stop, got, tt.want)
			}
		})
	}
}

func TestATRPositionSize(t *testing.T) {
	m := NewManager(testConfig(), testLogger())

	// risk = 200, atr*mult = 50*2 = 100 -> 2.
	if got := m.ATRPositionSize(10000, 50, 2); !almostEqual(got, 2) {
		t.Errorf("ATRPositionSize = %v, want 2", got)
	}
	// Zero multiplier falls back to the default of 2.
	if got := m.ATRPositionSize(10000, 50, 0); !almostEqual(got, 2) {
		t.Errorf("ATRPositionSize with default multiplier = %v, want 2", got)
	}
	if got := m.ATRPositionSize(10000, 0, 2); got != 0 {
		t.Errorf("ATRPositionSize with zero ATR = %v, want 0", got)
	}
}

func TestStopLoss(t *testing.T) {
	m := NewManager(testConfig(), testLogger())

	tests := []struct {
		name      string
		side      domain.Side
		entry     float64
		atr       float64
		low, high float64
		maxLoss   float64
		mult      float64
		want      float64
	}{
		// BUY: candle low 98, pct stop 98 (2%), atr stop 100-2*1.5 = 97 ->
		// max(98, 98, 97) = 98: the least favorable (highest) wins.
		{"long picks tightest stop", domain.SideBuy, 100, 2, 98, 0, 2, 1.5, 98},
		// SELL mirror: min(102, 102, 103) = 102.
		{"short picks tightest stop", domain.SideSell, 100, 2, 0, 102, 2, 1.5, 102},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.StopLoss(tt.entry, tt.atr, tt.side, tt.low, tt.high, tt.maxLoss, tt.mult)
			if !almostEqual(got, tt.want) {
				t.Errorf("StopLoss = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTakeProfit(t *testing.T) {
	m := NewManager(testConfig(), testLogger())

	// Long: entry 100, stop 98, ratio 2 -> tp1 = 104, tp2 = 106.
	tp1, tp2 := m.TakeProfit(100, 98, domain.SideBuy, 2)
	if !almostEqual(tp1, 104) || !almostEqual(tp2, 106) {
		t.Errorf("TakeProfit long = (%v, %v), want (104, 106)", tp1, tp2)
	}

	// Short mirror.
	tp1, tp2 = m.TakeProfit(100, 102, domain.SideSell, 2)
	if !almostEqual(tp1, 96) || !almostEqual(tp2, 94) {
		t.Errorf("TakeProfit short = (%v, %v), want (96, 94)", tp1, tp2)
	}
}

func TestSuggestLeverage(t *testing.T) {
	m := NewManager(testConfig(), testLogger())

	tests := []struct {
		confidence float64
		want       int
	}{
		{0, 1},
		{0.05, 1},
		{0.5, 5},
		{1, 10},
		{2, 10}, // clamped at max
	}

	for _, tt := range tests {
		if got := m.SuggestLeverage(tt.confidence); got != tt.want {
			t.Errorf("SuggestLeverage(%v) = %d, want %d", tt.confidence, got, tt.want)
		}
	}
}

func TestValidateOrderRuleOrder(t *testing.T) {
	tests := []struct {
		name          string
		check         OrderCheck
		balance       float64
		openPositions int
		dailyLoss     float64
		wantOK        bool
		wantRule      string
	}{
		{
			name:          "max positions checked first",
			check:         OrderCheck{Symbol: "BTCUSDT", Quantity: 100, Price: 50000},
			balance:       10000,
			openPositions: 5,
			wantRule:      "max_positions",
		},
		{
			name:     "notional over max position value",
			check:    OrderCheck{Symbol: "BTCUSDT", Quantity: 1, Price: 2000},
			balance:  10000,
			wantRule: "max_position_value",
		},
		{
			name: "insufficient balance",
			// cap = 20000*10% = 2000 < notional requires notional>cap to hit
			// the earlier rule, so use a notional between cap and balance by
			// raising MaxPositionPct via balance: notional 1500 > 1000 cap.
			check:    OrderCheck{Symbol: "BTCUSDT", Quantity: 1, Price: 1500},
			balance:  10000,
			wantRule: "max_position_value",
		},
		{
			name:      "daily loss budget exhausted",
			check:     OrderCheck{Symbol: "BTCUSDT", Quantity: 0.01, Price: 50000},
			balance:   10000,
			dailyLoss: 500,
			wantRule:  "daily_loss_budget",
		},
		{
			name:    "valid order passes",
			check:   OrderCheck{Symbol: "BTCUSDT", Quantity: 0.01, Price: 50000},
			balance: 10000,
			wantOK:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(testConfig(), testLogger())
			m.RecordLoss(tt.dailyLoss)

			got := m.ValidateOrder(tt.check, tt.balance, tt.openPositions)
			if got.OK != tt.wantOK {
				t.Fatalf("ValidateOrder OK = %v, want %v (rule %q: %s)",
					got.OK, tt.wantOK, got.Rule, got.Message)
			}
			if !tt.wantOK && got.Rule != tt.wantRule {
				t.Errorf("ValidateOrder rule = %q, want %q", got.Rule, tt.wantRule)
			}
		})
	}
}

func TestValidateOrderInsufficientBalance(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositionPct = 100 // disable the notional cap so balance rule fires
	m := NewManager(cfg, testLogger())

	got := m.ValidateOrder(OrderCheck{Symbol: "BTCUSDT", Quantity: 1, Price: 15000}, 10000, 0)
	if got.OK {
		t.Fatal("expected rejection")
	}
	if got.Rule != "insufficient_balance" {
		t.Errorf("rule = %q, want insufficient_balance", got.Rule)
	}
}

func TestKillSwitchTriggerAndCooldown(t *testing.T) {
	m := NewManager(testConfig(), testLogger())

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }

	m.SetInitialBalance(1000)

	// 20.5% drawdown triggers the 20% threshold.
	status := m.CheckKillSwitch(795)
	if !status.Active {
		t.Fatalf("kill switch should trigger at %.2f%% loss", status.LossPct)
	}
	if status.HoursRemaining != 24 {
		t.Errorf("HoursRemaining = %v, want 24", status.HoursRemaining)
	}
	if !m.KillSwitchActive() {
		t.Error("KillSwitchActive() should report true after trigger")
	}

	// Still suspended partway through the cooldown, even with a recovered
	// balance.
	now = base.Add(12 * time.Hour)
	status = m.CheckKillSwitch(1000)
	if !status.Active {
		t.Error("kill switch should stay active during cooldown")
	}
	if status.HoursRemaining < 11.9 || status.HoursRemaining > 12.1 {
		t.Errorf("HoursRemaining = %v, want ~12", status.HoursRemaining)
	}

	// Auto-clears after the cooldown has elapsed.
	now = base.Add(25 * time.Hour)
	status = m.CheckKillSwitch(1000)
	if status.Active {
		t.Error("kill switch should auto-clear after cooldown")
	}
	if m.KillSwitchActive() {
		t.Error("KillSwitchActive() should report false after auto-clear")
	}
}

func TestKillSwitchBelowThreshold(t *testing.T) {
	m := NewManager(testConfig(), testLogger())
	m.SetInitialBalance(1000)

	status := m.CheckKillSwitch(900)
	if status.Active {
		t.Error("10% drawdown must not trigger a 20% kill switch")
	}
	if !almostEqual(status.LossPct, 10) {
		t.Errorf("LossPct = %v, want 10", status.LossPct)
	}
}

func TestKillSwitchBaselineCapturedOnFirstCheck(t *testing.T) {
	m := NewManager(testConfig(), testLogger())

	// First check captures the baseline, so no drawdown yet.
	if status := m.CheckKillSwitch(1000); status.Active {
		t.Fatal("first check must not trigger")
	}
	if status := m.CheckKillSwitch(795); !status.Active {
		t.Error("drawdown from captured baseline should trigger")
	}
}

func TestResetKillSwitchClearsDailyLoss(t *testing.T) {
	m := NewManager(testConfig(), testLogger())
	m.SetInitialBalance(1000)
	m.RecordLoss(300)
	m.CheckKillSwitch(700)

	if !m.KillSwitchActive() {
		t.Fatal("kill switch should be active")
	}

	m.ResetKillSwitch()
	if m.KillSwitchActive() {
		t.Error("kill switch should be cleared after reset")
	}
	if m.DailyLoss() != 0 {
		t.Errorf("DailyLoss = %v, want 0 after reset", m.DailyLoss())
	}
}

func TestRecordLossIgnoresNonPositive(t *testing.T) {
	m := NewManager(testConfig(), testLogger())
	m.RecordLoss(-50)
	m.RecordLoss(0)
	if m.DailyLoss() != 0 {
		t.Errorf("DailyLoss = %v, want 0", m.DailyLoss())
	}
	m.RecordLoss(120)
	if m.DailyLoss() != 120 {
		t.Errorf("DailyLoss = %v, want 120", m.DailyLoss())
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero risk per trade", func(c *Config) { c.RiskPerTradePct = 0 }, true},
		{"zero kill switch", func(c *Config) { c.KillSwitchPct = 0 }, true},
		{"zero daily budget", func(c *Config) { c.DailyLossLimitUSD = 0 }, true},
		{"zero max positions", func(c *Config) { c.MaxPositions = 0 }, true},
		{"leverage too high", func(c *Config) { c.MaxLeverage = 200 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
