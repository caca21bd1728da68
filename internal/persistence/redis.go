package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/workspace-service/internal/cache"
	"github.com/spec-kit/workspace-service/internal/config"
)

// Redis wraps the go-redis client backing token revocation and ephemeral tokens.
type Redis struct {
	Client    *redis.Client
	opTimeout time.Duration
}

// NewRedis connects to Redis using the provided configuration. Reads and
// writes carry the configured operation timeout so a stalled server fails
// requests instead of hanging them.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *Redis {
	timeout := cfg.OpTimeout()
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.Error(err))
	} else {
		logger.Info("connected to redis")
	}

	return &Redis{Client: client, opTimeout: timeout}
}

// Store exposes the client as a cache.Store.
func (r *Redis) Store() *cache.RedisStore {
	return cache.NewRedisStore(r.Client, r.opTimeout)
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}
