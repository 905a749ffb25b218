package services

import (
	"context"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/lac-hong-legacy/guard_api/shared"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

type RedisService struct {
	appContext.DefaultService
	redis   *redis.Client
	timeout time.Duration
}

const REDIS_SVC = "redis_svc"

func (svc RedisService) Id() string {
	return REDIS_SVC
}

func (svc *RedisService) Configure(ctx *appContext.Context) error {
	svc.initRedisClient()
	return svc.DefaultService.Configure(ctx)
}

// Start checks connectivity. An unreachable redis is not fatal: counters
// fall back to process memory until it answers again.
func (svc *RedisService) Start() error {
	if svc.redis == nil {
		log.Info("REDIS_ADDR not set, counters are process-local")
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.redis.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Redis unreachable at startup, starting in degraded mode")
	}
	return nil
}

func (svc *RedisService) Shutdown() {
	if svc.redis != nil {
		_ = svc.redis.Close()
	}
}

func (svc *RedisService) initRedisClient() {
	addr := shared.GetEnv("REDIS_ADDR", "")
	if addr == "" {
		return
	}
	timeout := shared.GetEnvDuration("REDIS_TIMEOUT", 250*time.Millisecond)
	svc.timeout = timeout
	svc.redis = redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     shared.GetEnv("REDIS_PASSWORD", ""),
		DB:           shared.GetEnvInt("REDIS_DB", 0),
		DialTimeout:  timeout * 4,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
}

// GetClient returns nil when redis is not configured.
func (svc *RedisService) GetClient() *redis.Client {
	return svc.redis
}

// Timeout bounds a single counter operation.
func (svc *RedisService) Timeout() time.Duration {
	return svc.timeout
}
