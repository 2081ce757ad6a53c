// Package metrics exposes Prometheus instrumentation for the trading
// engine. Collectors are registered on the default registry so any package
// can record without threading a handle through constructors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersPlaced counts successful order placements by venue and type.
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradegate_orders_placed_total",
		Help: "Orders successfully placed, by venue and order type.",
	}, []string{"venue", "type"})

	// OrdersFailed counts failed order placements by venue.
	OrdersFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradegate_orders_failed_total",
		Help: "Order placements that failed, by venue.",
	}, []string{"venue"})

	// SignalsProcessed counts ProcessSignal outcomes by path.
	SignalsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradegate_signals_processed_total",
		Help: "Signals processed, by outcome (executed, queued, simulated, failed).",
	}, []string{"outcome"})

	// HeartbeatTicks counts supervisory ticks.
	HeartbeatTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradegate_heartbeat_ticks_total",
		Help: "Heartbeat ticks executed.",
	})

	// HeartbeatErrors counts failed heartbeat callbacks.
	HeartbeatErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradegate_heartbeat_errors_total",
		Help: "Heartbeat callback errors.",
	})

	// BreakerState publishes the circuit breaker state per venue
	// (0=closed, 1=open, 2=half-open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradegate_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half_open).",
	}, []string{"venue"})

	// KillSwitchActive is 1 while trading is suspended.
	KillSwitchActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradegate_kill_switch_active",
		Help: "Whether the drawdown kill switch is active.",
	})

	// DailyLoss publishes the running realized-loss counter in quote units.
	DailyLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradegate_daily_loss",
		Help: "Realized loss accumulated today, in quote currency.",
	})
)

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
