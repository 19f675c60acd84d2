package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/payment"
)

const (
	rateKeyPrefix     = "currency:usd_rate:"
	decimalsKeyPrefix = "currency:decimals:"

	rateTTL = 5 * time.Minute
)

// defaultDecimals applies when a currency has no cached precision. Eight is
// the native precision of the settlement ledger's assets.
const defaultDecimals int32 = 8

// RedisStorage caches currency metadata fed by the external rate collaborator
// and serves it to the transaction generator.
type RedisStorage struct {
	client *redis.Client
	logger logrus.FieldLogger
}

var (
	_ payment.CurrencyConverter = (*RedisStorage)(nil)
	_ payment.DecimalsSource    = (*RedisStorage)(nil)
)

func NewRedisStorage(cfg RedisConfig, logger logrus.FieldLogger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Username: cfg.User,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStorage{
		client: client,
		logger: logger.WithField("component", "storage.redis"),
	}, nil
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}

// SetUSDRate is the write side of the rate cache, fed by the exchange-rate
// collaborator out of band.
func (r *RedisStorage) SetUSDRate(ctx context.Context, currency string, rate decimal.Decimal) error {
	if err := r.client.Set(ctx, rateKeyPrefix+currency, rate.String(), rateTTL).Err(); err != nil {
		return fmt.Errorf("cache usd rate for %s: %w", currency, err)
	}
	return nil
}

func (r *RedisStorage) SetDecimals(ctx context.Context, currency string, decimals int32) error {
	if err := r.client.Set(ctx, decimalsKeyPrefix+currency, int64(decimals), 0).Err(); err != nil {
		return fmt.Errorf("cache decimals for %s: %w", currency, err)
	}
	return nil
}

func (r *RedisStorage) ConvertToUSD(ctx context.Context, amount decimal.Decimal, currency string) (payment.ConvertResult, error) {
	raw, err := r.client.Get(ctx, rateKeyPrefix+currency).Result()
	if err == redis.Nil {
		return payment.ConvertResult{}, fmt.Errorf("no usd rate cached for %s", currency)
	}
	if err != nil {
		return payment.ConvertResult{}, fmt.Errorf("read usd rate for %s: %w", currency, err)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return payment.ConvertResult{}, fmt.Errorf("parse cached usd rate %q: %w", raw, err)
	}
	return payment.ConvertResult{
		AmountUSD: amount.Mul(rate),
		USDRate:   rate,
	}, nil
}

// DecimalsFor never fails the caller; a cache miss falls back to the ledger
// default.
func (r *RedisStorage) DecimalsFor(ctx context.Context, currency string) int32 {
	raw, err := r.client.Get(ctx, decimalsKeyPrefix+currency).Int64()
	if err == redis.Nil {
		return defaultDecimals
	}
	if err != nil {
		r.logger.WithError(err).WithField("currency", currency).Warn("decimals lookup failed")
		return defaultDecimals
	}
	return int32(raw)
}
