// Package risk turns account state and a strategy signal into a safe, sized
// order plan, and enforces account-level stop conditions: per-trade sizing
// caps, a daily realized-loss budget, and a time-bounded kill switch.
package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/quantfall/tradegate/internal/domain"
)

// killSwitchCooldown is how long trading stays suspended after the kill
// switch triggers, absent a manual reset.
const killSwitchCooldown = 24 * time.Hour

// Config holds the risk policy for one engine instance. It is constructed
// once and never mutated afterwards.
type Config struct {
	// MaxPositionPct caps a single position's notional as a percentage of
	// balance.
	MaxPositionPct float64
	// MaxLeverage bounds the leverage the engine may request.
	MaxLeverage int
	// RiskPerTradePct is the percentage of balance risked between entry and
	// stop on each trade.
	RiskPerTradePct float64
	// DailyLossLimitUSD is the realized-loss budget for the current day.
	DailyLossLimitUSD float64
	// KillSwitchPct is the drawdown (percent of initial balance) that
	// suspends all new trading.
	KillSwitchPct float64
	// MaxPositions caps the number of concurrently open positions.
	MaxPositions int
}

// Validate checks that every percentage is positive.
func (c Config) Validate() error {
	if c.MaxPositionPct <= 0 {
		return fmt.Errorf("risk: max_position_pct must be > 0, got %v", c.MaxPositionPct)
	}
	if c.RiskPerTradePct <= 0 {
		return fmt.Errorf("risk: risk_per_trade_pct must be > 0, got %v", c.RiskPerTradePct)
	}
	if c.KillSwitchPct <= 0 {
		return fmt.Errorf("risk: kill_switch_pct must be > 0, got %v", c.KillSwitchPct)
	}
	if c.DailyLossLimitUSD <= 0 {
		return fmt.Errorf("risk: daily_loss_limit_usd must be > 0, got %v", c.DailyLossLimitUSD)
	}
	if c.MaxPositions < 1 {
		return fmt.Errorf("risk: max_positions must be >= 1, got %d", c.MaxPositions)
	}
	if c.MaxLeverage < 1 || c.MaxLeverage > 125 {
		return fmt.Errorf("risk: max_leverage must be 1-125, got %d", c.MaxLeverage)
	}
	return nil
}

// KillSwitchStatus is the result of a kill-switch check.
type KillSwitchStatus struct {
	Active         bool
	LossPct        float64
	HoursRemaining float64
}

// OrderCheck carries the order parameters subject to pre-trade validation.
type OrderCheck struct {
	Symbol   string
	Quantity float64
	Price    float64
}

// ValidationResult is a structured pre-trade check outcome. Failures are
// results, never errors, and name the rule that rejected the order.
type ValidationResult struct {
	OK      bool
	Rule    string
	Message string
}

// Manager owns the mutable risk state for one engine instance. All counters
// are mutex-guarded so the engine may be driven from concurrent signal
// sources.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu             sync.Mutex
	initialBalance float64
	triggered      bool
	triggeredAt    time.Time
	dailyLoss      float64

	// now is injectable for kill-switch cooldown tests.
	now func() time.Time
}

// NewManager creates a Manager with the given policy. The initial balance
// used for drawdown tracking is captured on the first kill-switch check
// unless set explicitly via SetInitialBalance.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk")),
		now:    time.Now,
	}
}

// Config returns the immutable policy the manager was built with.
func (m *Manager) Config() Config {
	return m.cfg
}

// PositionSize computes the quantity to trade so that the loss between
// entry and stop equals the per-trade risk budget. The result is capped at
// the max-position notional. Fails closed (returns 0) when entry == stop.
func (m *Manager) PositionSize(balance, entry, stop float64) float64 {
	dist := math.Abs(entry - stop)
	if dist == 0 || entry <= 0 || balance <= 0 {
		return 0
	}

	riskAmount := balance * m.cfg.RiskPerTradePct / 100
	size := riskAmount / dist

	maxSize := balance * m.cfg.MaxPositionPct / 100 / entry
	if size > maxSize {
		size = maxSize
	}
	return size
}

// ATRPositionSize sizes a trade from volatility when the signal supplies an
// ATR instead of an explicit stop. A zero multiplier means the default of 2.
func (m *Manager) ATRPositionSize(balance, atr, atrMultiplier float64) float64 {
	if atrMultiplier == 0 {
		atrMultiplier = 2.0
	}
	if atr <= 0 || balance <= 0 {
		return 0
	}
	riskAmount := balance * m.cfg.RiskPerTradePct / 100
	return riskAmount / (atr * atrMultiplier)
}

// StopLoss computes three candidate stops (the opposing candle extreme, a
// percentage-of-entry cap, and an ATR multiple) and selects the one least
// favorable to the position, so realized risk is never smaller than any
// individual method implies. A zero atrMultiplier means the default of 1.5.
func (m *Manager) StopLoss(entry, atr float64, side domain.Side, candleLow, candleHigh, maxLossPct, atrMultiplier float64) float64 {
	if atrMultiplier == 0 {
		atrMultiplier = 1.5
	}

	if side == domain.SideBuy {
		pctStop := entry * (1 - maxLossPct/100)
		atrStop := entry - atr*atrMultiplier
		return math.Max(candleLow, math.Max(atrStop, pctStop))
	}

	pctStop := entry * (1 + maxLossPct/100)
	atrStop := entry + atr*atrMultiplier
	return math.Min(candleHigh, math.Min(atrStop, pctStop))
}

// TakeProfit returns the two target prices at risk-reward multiples of the
// stop distance. Venues needing a different ladder use a BracketPolicy.
func (m *Manager) TakeProfit(entry, stop float64, side domain.Side, ratio float64) (tp1, tp2 float64) {
	return RatioPolicy{Ratio: ratio}.Levels(entry, stop, side)
}

// SuggestLeverage scales leverage with signal confidence, clamped to
// [1, max_leverage].
func (m *Manager) SuggestLeverage(confidence float64) int {
	lev := int(math.Round(confidence * float64(m.cfg.MaxLeverage)))
	if lev < 1 {
		lev = 1
	}
	if lev > m.cfg.MaxLeverage {
		lev = m.cfg.MaxLeverage
	}
	return lev
}

// ValidateOrder runs the ordered pre-trade checks: open-position count,
// max-position notional, available balance, and the remaining daily loss
// budget. The first failing rule wins and its message names the rule.
func (m *Manager) ValidateOrder(check OrderCheck, balance float64, openPositions int) ValidationResult {
	if openPositions >= m.cfg.MaxPositions {
		return m.reject("max_positions",
			fmt.Sprintf("max positions reached (%d/%d)", openPositions, m.cfg.MaxPositions))
	}

	notional := check.Quantity * check.Price
	maxNotional := balance * m.cfg.MaxPositionPct / 100
	if notional > maxNotional {
		return m.reject("max_position_value",
			fmt.Sprintf("notional %.2f exceeds max position value %.2f", notional, maxNotional))
	}

	if notional > balance {
		return m.reject("insufficient_balance",
			fmt.Sprintf("notional %.2f exceeds balance %.2f", notional, balance))
	}

	// The budget check is on remaining budget, not the incremental trade:
	// trades are rejected only once the budget is already exhausted.
	m.mu.Lock()
	remaining := m.cfg.DailyLossLimitUSD - m.dailyLoss
	m.mu.Unlock()
	if remaining <= 0 {
		return m.reject("daily_loss_budget",
			fmt.Sprintf("daily loss budget exhausted (%.2f/%.2f)", m.DailyLoss(), m.cfg.DailyLossLimitUSD))
	}

	return ValidationResult{OK: true}
}

func (m *Manager) reject(rule, msg string) ValidationResult {
	m.logger.Warn("order rejected",
		slog.String("rule", rule),
		slog.String("reason", msg),
	)
	return ValidationResult{OK: false, Rule: rule, Message: msg}
}

// SetInitialBalance fixes the drawdown baseline explicitly.
func (m *Manager) SetInitialBalance(balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialBalance = balance
}

// CheckKillSwitch evaluates the drawdown circuit breaker. If already
// triggered it reports hours remaining, auto-clearing once the cooldown has
// elapsed. Otherwise it triggers when the drawdown from the initial balance
// reaches the configured threshold. The first call captures the baseline
// balance if none was set.
func (m *Manager) CheckKillSwitch(currentBalance float64) KillSwitchStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialBalance == 0 {
		m.initialBalance = currentBalance
	}

	if m.triggered {
		elapsed := m.now().Sub(m.triggeredAt)
		if elapsed >= killSwitchCooldown {
			m.triggered = false
			m.logger.Info("kill switch auto-cleared",
				slog.Duration("suspended_for", elapsed),
			)
			return KillSwitchStatus{Active: false}
		}
		return KillSwitchStatus{
			Active:         true,
			HoursRemaining: (killSwitchCooldown - elapsed).Hours(),
		}
	}

	lossPct := (m.initialBalance - currentBalance) / m.initialBalance * 100
	if lossPct >= m.cfg.KillSwitchPct {
		m.triggered = true
		m.triggeredAt = m.now()
		m.logger.Error("kill switch triggered",
			slog.Float64("loss_pct", lossPct),
			slog.Float64("threshold_pct", m.cfg.KillSwitchPct),
			slog.Float64("initial_balance", m.initialBalance),
			slog.Float64("current_balance", currentBalance),
		)
		return KillSwitchStatus{
			Active:         true,
			LossPct:        lossPct,
			HoursRemaining: killSwitchCooldown.Hours(),
		}
	}

	return KillSwitchStatus{Active: false, LossPct: lossPct}
}

// KillSwitchActive reports whether the suspension is currently in effect,
// without re-evaluating drawdown.
func (m *Manager) KillSwitchActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggered && m.now().Sub(m.triggeredAt) < killSwitchCooldown
}

// ResetKillSwitch clears the suspension and the daily-loss counter. It is
// intended to require explicit human action.
func (m *Manager) ResetKillSwitch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggered = false
	m.dailyLoss = 0
	m.logger.Warn("kill switch manually reset")
}

// RecordLoss adds a realized loss to the running daily counter.
func (m *Manager) RecordLoss(amount float64) {
	if amount <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyLoss += amount
}

// ResetDailyLoss zeroes the daily counter, typically at the day boundary.
func (m *Manager) ResetDailyLoss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyLoss = 0
}

// DailyLoss returns the accumulated realized loss for the current day.
func (m *Manager) DailyLoss() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyLoss
}
