// Package store persists a snapshot of the price stream in Redis
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sljivkov/pricestream/domain"
	"github.com/sljivkov/pricestream/logger"
)

// Timeouts for the Redis connection
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Dial  time.Duration
}

// DefaultTimeouts are used by Dial when a zero Timeouts is given
var DefaultTimeouts = Timeouts{
	Read:  3 * time.Second,
	Write: 3 * time.Second,
	Dial:  5 * time.Second,
}

// Dial connects to the Redis server at url and pings it
func Dial(ctx context.Context, url string, timeouts Timeouts) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if timeouts == (Timeouts{}) {
		timeouts = DefaultTimeouts
	}

	opts.ReadTimeout = timeouts.Read
	opts.WriteTimeout = timeouts.Write
	opts.DialTimeout = timeouts.Dial

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// RedisSnapshot mirrors the recent updates and the latest price per product
// into Redis under a key prefix
type RedisSnapshot struct {
	rdb    redis.Cmdable
	prefix string
	size   int
	log    zerolog.Logger
}

// NewRedisSnapshot creates a RedisSnapshot keeping at most size recent updates
func NewRedisSnapshot(rdb redis.Cmdable, prefix string, size int) *RedisSnapshot {
	if size < 1 {
		size = 1
	}

	return &RedisSnapshot{
		rdb:    rdb,
		prefix: prefix,
		size:   size,
		log:    logger.With("redis"),
	}
}

func (s *RedisSnapshot) updatesKey() string { return s.prefix + ":updates" }

func (s *RedisSnapshot) pricesKey() string { return s.prefix + ":prices" }

// Record stores one update
func (s *RedisSnapshot) Record(ctx context.Context, ev domain.PriceUpdateEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode update: %w", err)
	}

	field := strconv.FormatInt(ev.ProductID, 10)

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.updatesKey(), string(payload))
		pipe.LTrim(ctx, s.updatesKey(), 0, int64(s.size-1))
		pipe.HSet(ctx, s.pricesKey(), field, ev.NewPrice.String())

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record update: %w", err)
	}

	return nil
}

// Prices reads back the stored latest price per product
func (s *RedisSnapshot) Prices(ctx context.Context) (map[int64]decimal.Decimal, error) {
	raw, err := s.rdb.HGetAll(ctx, s.pricesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read prices: %w", err)
	}

	prices := make(map[int64]decimal.Decimal, len(raw))

	for field, value := range raw {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			s.log.Warn().Str("field", field).Msg("⚠️ skipping stored price with invalid product id")

			continue
		}

		price, err := decimal.NewFromString(value)
		if err != nil {
			s.log.Warn().Int64("product_id", id).Str("value", value).Msg("⚠️ skipping invalid stored price")

			continue
		}

		prices[id] = price
	}

	return prices, nil
}
