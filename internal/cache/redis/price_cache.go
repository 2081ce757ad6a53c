package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfall/tradegate/internal/domain"
)

// markPriceTTL expires stale marks so a dead price feed surfaces as
// ErrNotFound instead of an old price.
const markPriceTTL = 5 * time.Minute

// PriceCache implements domain.PriceCache using Redis hashes. Each market's
// mark price is stored at key "mark:{market}" with fields "price" and "ts"
// (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.rdb}
}

func markKey(market string) string {
	return "mark:" + market
}

// SetPrice stores the latest mark price and timestamp for a market.
func (pc *PriceCache) SetPrice(ctx context.Context, market string, price float64, ts time.Time) error {
	key := markKey(market)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, markPriceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set mark price %s: %w", market, err)
	}
	return nil
}

// GetPrice retrieves the latest mark price and timestamp for a market. It
// returns domain.ErrNotFound when no fresh mark exists.
func (pc *PriceCache) GetPrice(ctx context.Context, market string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, markKey(market)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get mark price %s: %w", market, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse mark price %s: %w", market, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse mark ts %s: %w", market, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// GetPrices retrieves the latest mark prices for multiple markets using a
// pipeline. Markets without a fresh mark are silently omitted from the
// result map.
func (pc *PriceCache) GetPrices(ctx context.Context, markets []string) (map[string]float64, error) {
	if len(markets) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(markets))
	for _, m := range markets {
		cmds[m] = pipe.HGetAll(ctx, markKey(m))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get mark prices pipeline: %w", err)
	}

	result := make(map[string]float64, len(markets))
	for m, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		priceStr, ok := vals["price"]
		if !ok {
			continue
		}
		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			continue
		}
		result[m] = price
	}

	return result, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
