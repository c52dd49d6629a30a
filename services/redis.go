package services

import (
	"context"
	"os"
	"strconv"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/aegis-labs/warden_api/security"
)

// RedisService owns the pooled connection to the shared state store and
// exposes it behind the security.Store contract.
type RedisService struct {
	appContext.DefaultService
	redis *redis.Client
	store *security.RedisStore
}

const REDIS_SVC = "redis_svc"

func (svc RedisService) Id() string {
	return REDIS_SVC
}

func (svc *RedisService) Configure(ctx *appContext.Context) error {
	svc.initRedisClient()
	svc.store = security.NewRedisStore(svc.redis)
	return svc.DefaultService.Configure(ctx)
}

// Start probes connectivity but does not fail hard. The admission layer runs
// fail-open while the store is unreachable, so a redis that is still booting
// must not take the API down with it.
func (svc *RedisService) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.redis.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis not reachable at startup, admission checks fail open until it recovers")
	}
	return nil
}

func (svc *RedisService) initRedisClient() {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	redisPassword := os.Getenv("REDIS_PASSWORD")

	redisDB := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			redisDB = db
		}
	}

	// Tight timeouts: a slow store must trip the breaker quickly instead of
	// stalling request goroutines.
	svc.redis = redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Password:     redisPassword,
		DB:           redisDB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     200,
	})
}

func (svc *RedisService) GetClient() *redis.Client {
	return svc.redis
}

// Store returns the security.Store view of the connection.
func (svc *RedisService) Store() security.Store {
	return svc.store
}
