package app

import (
	"context"
	"fmt"
	"time"

	"github.com/fiffu/registrywatch/config"
	"github.com/fiffu/registrywatch/lib/cache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewCache picks the backend shared by the snapshot cache and the rate
// limiters.
func NewCache(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case "", "memory":
		log.Info("Using in-memory cache")
		return cache.NewMemory(time.Minute), nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis %s: %w", cfg.Redis.Address, err)
				}
				log.Sugar().Infow("Connected to redis", "address", cfg.Redis.Address)
				return nil
			},
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
		return cache.NewRedis(client), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
}
