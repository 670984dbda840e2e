package main

import (
	"context"
	"os"
	"strings"

	"bazaar/cmd/server/config"
	"bazaar/internal/cart"
	"bazaar/internal/market"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// buildCartStore connects the Redis cart when REDIS_URL is set. A nil store
// means the in-memory cart is used.
func buildCartStore(ctx context.Context, logger *zap.Logger) (market.CartStore, func(), error) {
	if strings.TrimSpace(os.Getenv("REDIS_URL")) == "" {
		logger.Info("REDIS_URL not set, using in-memory cart")
		return nil, func() {}, nil
	}

	cfg, err := config.LoadRedis()
	if err != nil {
		return nil, nil, err
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DialTimeout != nil {
		opts.DialTimeout = *cfg.DialTimeout
	}
	if cfg.ReadTimeout != nil {
		opts.ReadTimeout = *cfg.ReadTimeout
	}
	if cfg.WriteTimeout != nil {
		opts.WriteTimeout = *cfg.WriteTimeout
	}
	if cfg.PoolSize != nil {
		opts.PoolSize = *cfg.PoolSize
	}
	if cfg.MinIdleConns != nil {
		opts.MinIdleConns = *cfg.MinIdleConns
	}
	if cfg.MaxRetries != nil {
		opts.MaxRetries = *cfg.MaxRetries
	}
	if cfg.TLSConfig != nil {
		opts.TLSConfig = cfg.TLSConfig
	}

	client := redis.NewClient(opts)
	if cfg.EnableOTel {
		if err := redisotel.InstrumentTracing(client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
	}

	pingCtx := ctx
	if cfg.HealthcheckTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(pingCtx, cfg.HealthcheckTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	store := cart.NewRedisStore(cart.NewClient(client), cfg.Stream, cfg.CartTTL, cfg.StreamMaxLen)
	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Warn("close redis", zap.Error(err))
		}
	}
	logger.Info("redis cart enabled")
	return store, cleanup, nil
}
