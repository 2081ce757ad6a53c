// Package app provides the top-level application lifecycle for the trading
// engine. It wires together all dependencies (stores, caches, blob storage,
// venue clients, services, the engine, and notifications), registers the
// supervisory heartbeat cycles, and runs the long-lived goroutines.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfall/tradegate/internal/config"
	"github.com/quantfall/tradegate/internal/domain"
	"github.com/quantfall/tradegate/internal/heartbeat"
	"github.com/quantfall/tradegate/internal/metrics"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, prepares the venue, starts the heartbeat and
// the long-lived goroutines (metrics endpoint, operator bot, price stream),
// and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Engine.Mode),
		slog.String("venue", a.cfg.Engine.Venue),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if err := a.prepareVenue(ctx, deps); err != nil {
		return err
	}

	a.registerCycles(deps)

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Metrics.Enabled {
		a.startMetricsServer(g, gctx)
	}

	if deps.Bot != nil {
		g.Go(func() error {
			return deps.Bot.Run(gctx)
		})
	}

	if deps.Stream != nil {
		if err := deps.Stream.Connect(gctx); err != nil {
			return fmt.Errorf("app: price stream: %w", err)
		}
		a.closers = append(a.closers, func() { _ = deps.Stream.Close() })
		if err := deps.Stream.Subscribe(gctx, a.cfg.Engine.Symbols); err != nil {
			return fmt.Errorf("app: price stream subscribe: %w", err)
		}
	}

	deps.Scheduler.Start(gctx)

	if err := deps.Notifier.NotifyAll(gctx, "Engine started",
		fmt.Sprintf("mode=%s venue=%s", deps.Engine.Mode(), deps.Venue.Name())); err != nil {
		a.logger.WarnContext(gctx, "startup notification failed", slog.String("error", err.Error()))
	}

	<-gctx.Done()
	deps.Scheduler.Stop()

	notifyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := deps.Notifier.NotifyAll(notifyCtx, "Engine stopped", "shutdown requested"); err != nil {
		a.logger.Warn("shutdown notification failed", slog.String("error", err.Error()))
	}
	cancel()

	if err := g.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("app: %w", err)
	}
	return ctx.Err()
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// prepareVenue applies margin type and leverage to every traded symbol. Paper
// mode never touches the venue.
func (a *App) prepareVenue(ctx context.Context, deps *Dependencies) error {
	if deps.Engine.Mode() == domain.ModePaper {
		return nil
	}
	for _, symbol := range a.cfg.Engine.Symbols {
		if err := deps.Orders.SetMarginType(ctx, symbol, a.cfg.Engine.MarginType); err != nil {
			return fmt.Errorf("app: prepare %s: %w", symbol, err)
		}
		if err := deps.Orders.SetLeverage(ctx, symbol, a.cfg.Engine.Leverage); err != nil {
			return fmt.Errorf("app: prepare %s: %w", symbol, err)
		}
	}
	return nil
}

// registerCycles attaches the four supervisory callbacks. Registration order
// is load-bearing: scan feeds the engine, manage gates it, tune adjusts it,
// report summarises.
func (a *App) registerCycles(deps *Dependencies) {
	deps.Scheduler.Register("scan", a.scanCycle(deps))
	deps.Scheduler.Register("manage", a.manageCycle(deps))
	deps.Scheduler.Register("tune", a.tuneCycle(deps))
	deps.Scheduler.Register("report", a.reportCycle(deps))
}

// signalEnvelope is the wire format of one inbound signal on the bus stream.
type signalEnvelope struct {
	Symbol     string                `json:"symbol"`
	StrategyID string                `json:"strategy_id,omitempty"`
	Signal     domain.StrategySignal `json:"signal"`
}

// scanCycle drains new signals from the bus stream and runs each through the
// engine. The stream cursor starts at process start, so history is never
// replayed after a restart.
func (a *App) scanCycle(deps *Dependencies) func(ctx context.Context) error {
	lastID := fmt.Sprintf("%d-0", time.Now().UnixMilli())
	stream := a.cfg.Engine.SignalStream

	return func(ctx context.Context) error {
		msgs, err := deps.Bus.StreamRead(ctx, stream, lastID, 32)
		if err != nil {
			return fmt.Errorf("app: scan signals: %w", err)
		}

		for _, msg := range msgs {
			lastID = msg.ID

			var env signalEnvelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				a.logger.WarnContext(ctx, "unparseable signal dropped",
					slog.String("stream_id", msg.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if env.Symbol == "" {
				a.logger.WarnContext(ctx, "signal without symbol dropped",
					slog.String("stream_id", msg.ID),
				)
				continue
			}
			strategyID := env.StrategyID
			if strategyID == "" {
				strategyID = a.cfg.Engine.StrategyID
			}

			res := deps.Engine.ProcessSignal(ctx, env.Signal, env.Symbol, strategyID)
			a.logger.InfoContext(ctx, "signal processed",
				slog.String("symbol", env.Symbol),
				slog.Bool("success", res.Success),
				slog.String("reason", res.Reason),
			)
		}
		return nil
	}
}

// manageCycle is the account health gate. An active kill switch aborts the
// rest of the tick. It also rolls the daily-loss counter at the UTC day
// boundary, expires stale pending signals, and refreshes the gauges.
func (a *App) manageCycle(deps *Dependencies) func(ctx context.Context) error {
	lastDay := time.Now().UTC().Format("2006-01-02")

	return func(ctx context.Context) error {
		if day := time.Now().UTC().Format("2006-01-02"); day != lastDay {
			deps.Risk.ResetDailyLoss()
			lastDay = day
			a.logger.InfoContext(ctx, "daily loss counter reset", slog.String("day", day))
		}

		metrics.DailyLoss.Set(deps.Risk.DailyLoss())
		metrics.BreakerState.WithLabelValues(deps.Venue.Name()).Set(float64(deps.Breaker.State()))

		pending, err := deps.Pending.ListByStatus(ctx, domain.PendingStatusPending)
		if err != nil {
			return fmt.Errorf("app: list pending signals: %w", err)
		}
		now := time.Now()
		for _, ps := range pending {
			if ps.ExpiresAt == nil || now.Before(*ps.ExpiresAt) {
				continue
			}
			if err := deps.Pending.UpdateStatus(ctx, ps.ID, domain.PendingStatusExpired, nil); err != nil {
				a.logger.WarnContext(ctx, "expire pending signal failed",
					slog.String("pending_id", ps.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			a.logger.InfoContext(ctx, "pending signal expired",
				slog.String("pending_id", ps.ID),
				slog.String("symbol", ps.Symbol),
			)
		}

		if deps.Risk.KillSwitchActive() {
			metrics.KillSwitchActive.Set(1)
			a.logger.WarnContext(ctx, "kill switch active, skipping remaining cycles")
			return heartbeat.ErrAbortTick
		}
		metrics.KillSwitchActive.Set(0)
		return nil
	}
}

// tuneSeverity is how much of the daily loss budget may burn before the tune
// cycle starts stepping leverage down.
const tuneSeverity = 0.5

// tuneCycle runs every fifth tick and de-leverages when the day is going
// badly: one leverage step down each time the realized loss exceeds half the
// daily budget.
func (a *App) tuneCycle(deps *Dependencies) func(ctx context.Context) error {
	tick := 0

	return func(ctx context.Context) error {
		tick++
		if tick%5 != 0 {
			return nil
		}

		loss := deps.Risk.DailyLoss()
		budget := a.cfg.Risk.DailyLossLimitUSD
		if loss <= budget*tuneSeverity {
			return nil
		}

		lev := deps.Engine.Leverage()
		if lev <= 1 {
			return nil
		}
		if err := deps.Engine.SetLeverage(lev - 1); err != nil {
			return fmt.Errorf("app: tune leverage: %w", err)
		}
		a.logger.WarnContext(ctx, "leverage stepped down",
			slog.Float64("daily_loss", loss),
			slog.Float64("budget", budget),
			slog.Int("from", lev),
			slog.Int("to", lev-1),
		)
		return nil
	}
}

// reportCycle logs scheduler health every tick and, once a day, moves aged
// trades to cold storage before deleting them from the primary store.
func (a *App) reportCycle(deps *Dependencies) func(ctx context.Context) error {
	var lastArchive time.Time

	return func(ctx context.Context) error {
		stats := deps.Scheduler.Stats()
		a.logger.InfoContext(ctx, "heartbeat report",
			slog.Int64("ticks", stats.TickCount),
			slog.Int64("errors", stats.ErrorCount),
			slog.Float64("daily_loss", deps.Risk.DailyLoss()),
			slog.String("mode", string(deps.Engine.Mode())),
		)

		if time.Since(lastArchive) < 24*time.Hour {
			return nil
		}

		before := time.Now().UTC().AddDate(0, 0, -a.cfg.Engine.ArchiveRetentionDays)
		archived, err := deps.Archiver.ArchiveTrades(ctx, before)
		if err != nil {
			return fmt.Errorf("app: archive trades: %w", err)
		}
		if archived > 0 {
			deleted, err := deps.Trades.DeleteBefore(ctx, before)
			if err != nil {
				return fmt.Errorf("app: prune archived trades: %w", err)
			}
			a.logger.InfoContext(ctx, "trades archived",
				slog.Int64("archived", archived),
				slog.Int64("deleted", deleted),
				slog.Time("before", before),
			)
		}
		lastArchive = time.Now()
		return nil
	}
}

// startMetricsServer serves the Prometheus scrape endpoint until the group
// context is cancelled.
func (a *App) startMetricsServer(g *errgroup.Group, ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		a.logger.Info("metrics endpoint listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
