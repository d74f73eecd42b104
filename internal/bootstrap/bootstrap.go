// Package bootstrap builds the shared infrastructure both binaries need.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/elecmate/api/internal/config"
	"github.com/elecmate/api/internal/store"
)

// NeedsRedis reports whether the configured store and queue use Redis.
// The memory driver runs everything in process.
func NeedsRedis(cfg *config.Config) bool {
	return cfg.Store.Driver != config.StoreDriverMemory
}

func NewRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func AsynqRedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

// OpenStore returns the configured job store and a close function.
// redisClient is only used by the redis driver.
func OpenStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) (store.JobStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		logger.Info("Using in-memory job store")
		return store.NewMemoryStore(), noop, nil

	case config.StoreDriverRedis:
		if redisClient == nil {
			return nil, nil, fmt.Errorf("redis store requires a redis client")
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			// Keep going like the queue does; reads fail until Redis is back.
			logger.Warn("Redis not available", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		logger.Info("Using redis job store", zap.String("addr", cfg.Redis.Addr))
		return store.NewRedisStore(redisClient, cfg.Store.JobTTL()), noop, nil

	case config.StoreDriverPostgres:
		pg, err := store.NewPostgresStore(cfg.Database.DSN, cfg.Database.AutoMigrate)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		logger.Info("Using postgres job store", zap.Bool("autoMigrate", cfg.Database.AutoMigrate))
		return pg, pg.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
