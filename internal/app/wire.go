package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/quantfall/tradegate/internal/blob/s3"
	"github.com/quantfall/tradegate/internal/cache/redis"
	"github.com/quantfall/tradegate/internal/config"
	"github.com/quantfall/tradegate/internal/crypto"
	"github.com/quantfall/tradegate/internal/domain"
	"github.com/quantfall/tradegate/internal/engine"
	"github.com/quantfall/tradegate/internal/exchange/binance"
	"github.com/quantfall/tradegate/internal/exchange/dexswap"
	"github.com/quantfall/tradegate/internal/heartbeat"
	"github.com/quantfall/tradegate/internal/notify"
	"github.com/quantfall/tradegate/internal/resilience"
	"github.com/quantfall/tradegate/internal/risk"
	"github.com/quantfall/tradegate/internal/service"
	"github.com/quantfall/tradegate/internal/store/postgres"
	"github.com/quantfall/tradegate/internal/telegram"
)

// Dependencies bundles everything the application lifecycle needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Trades  domain.TradeStore
	Pending domain.PendingSignalStore
	Audit   domain.AuditStore

	// Caches and coordination
	Prices      domain.PriceCache
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager
	Bus         domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Venue and execution
	Venue     domain.ExchangeClient
	Orders    *service.OrderService
	Positions *service.PositionService
	Breaker   *resilience.Breaker

	// Engine
	Risk   *risk.Manager
	Engine *engine.Engine

	// Supervision and operator surfaces
	Scheduler *heartbeat.Scheduler
	Notifier  *notify.Notifier
	Bot       *telegram.Bot   // nil when disabled
	Stream    *dexswap.Stream // nil unless the dexswap feed is configured
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Trades = postgres.NewTradeStore(pool)
	deps.Pending = postgres.NewPendingSignalStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Prices = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.Bus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage ---
	s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: s3: %w", err)
	}
	closers = append(closers, func() { _ = s3Client.Close() })

	deps.BlobWriter = s3blob.NewWriter(s3Client)
	deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.Trades, deps.Audit)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Venue ---
	switch strings.ToLower(cfg.Engine.Venue) {
	case "dexswap":
		key, err := crypto.LoadSigningKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Dexswap.SigningKey,
			EncryptedKeyPath: cfg.Dexswap.EncryptedKeyPath,
			KeyPassword:      cfg.Dexswap.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: dexswap signing key: %w", err)
		}
		client, err := dexswap.NewClient(dexswap.Config{
			BaseURL:    cfg.Dexswap.BaseURL,
			APIKey:     cfg.Dexswap.ApiKey,
			APISecret:  cfg.Dexswap.ApiSecret,
			SigningKey: key,
			ChainID:    cfg.Dexswap.ChainID,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: dexswap client: %w", err)
		}
		deps.Venue = client

		if cfg.Dexswap.WsURL != "" {
			deps.Stream = dexswap.NewStream(cfg.Dexswap.WsURL, deps.Bus, logger)
			prices := deps.Prices
			deps.Stream.OnMarkPrice(func(mp dexswap.MarkPrice) {
				cacheCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := prices.SetPrice(cacheCtx, mp.Market, mp.Price, mp.Timestamp); err != nil {
					logger.Warn("mark price cache update failed",
						slog.String("market", mp.Market),
						slog.String("error", err.Error()),
					)
				}
			})
		}
	default:
		creds, err := crypto.LoadCredentials(
			cfg.Binance.ApiKey,
			cfg.Binance.ApiSecret,
			cfg.Binance.EncryptedCredsPath,
			cfg.Binance.CredsPassword,
		)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: binance credentials: %w", err)
		}
		deps.Venue = binance.NewClient(binance.Config{
			APIKey:    creds.APIKey,
			APISecret: creds.APISecret,
			Testnet:   cfg.Binance.Testnet,
		}, logger)
	}

	// --- Resilience ---
	retry := resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay.Duration,
		MaxDelay:    cfg.Retry.MaxDelay.Duration,
		Multiplier:  cfg.Retry.Multiplier,
	}, logger)
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout.Duration,
	}, logger)
	deps.Breaker = breaker

	// --- Risk ---
	riskCfg := risk.Config{
		MaxPositionPct:    cfg.Risk.MaxPositionPct,
		MaxLeverage:       cfg.Risk.MaxLeverage,
		RiskPerTradePct:   cfg.Risk.RiskPerTradePct,
		DailyLossLimitUSD: cfg.Risk.DailyLossLimitUSD,
		KillSwitchPct:     cfg.Risk.KillSwitchPct,
		MaxPositions:      cfg.Risk.MaxPositions,
	}
	if err := riskCfg.Validate(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	deps.Risk = risk.NewManager(riskCfg, logger)

	policy, err := risk.PolicyFor(risk.PolicyConfig{
		Policy:          cfg.Risk.BracketPolicy,
		TakeProfitRatio: cfg.Risk.TakeProfitRatio,
		TargetPct:       cfg.Risk.TargetPct,
		SecondTargetPct: cfg.Risk.SecondTargetPct,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}

	// --- Services ---
	deps.Orders = service.NewOrderService(
		deps.Venue, deps.Trades, deps.RateLimiter, deps.Bus, deps.Audit,
		retry, breaker, logger,
	)
	deps.Positions = service.NewPositionService(deps.Venue, deps.Orders, deps.Bus, deps.Risk, logger)

	// --- Engine ---
	mode, err := domain.ParseMode(cfg.Engine.Mode)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	deps.Engine = engine.New(
		engine.Config{
			Mode:          mode,
			Leverage:      cfg.Engine.Leverage,
			QuoteAsset:    cfg.Engine.QuoteAsset,
			PaperBalance:  cfg.Engine.PaperBalance,
			PendingTTL:    cfg.Engine.PendingTTL.Duration,
			ATRMultiplier: cfg.Risk.ATRMultiplier,
		},
		deps.Risk,
		policy,
		deps.Orders,
		deps.Positions,
		deps.Venue,
		deps.Pending,
		deps.Locks,
		deps.Notifier,
		logger,
	)

	// --- Heartbeat ---
	deps.Scheduler = heartbeat.NewScheduler(heartbeat.Config{
		Interval:             cfg.Heartbeat.Interval.Duration,
		MaxConsecutiveErrors: cfg.Heartbeat.MaxConsecutiveErrors,
	}, logger)

	// --- Operator bot ---
	if cfg.Telegram.Enabled {
		bot, err := telegram.NewBot(telegram.Config{
			Token:          cfg.Telegram.BotToken,
			AllowedChatIDs: cfg.Telegram.AllowedChatIDs,
		}, deps.Engine, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: telegram bot: %w", err)
		}
		deps.Bot = bot
	}

	return deps, cleanup, nil
}
