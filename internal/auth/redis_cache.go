package auth

import (
	"context"
	"fmt"
	"time"

	"ms-stepping/internal/logger"

	"github.com/go-redis/redis/v8"
)

// InitializeRedis connects to Redis and verifies it accepts writes. The same
// client backs token caching, wizard drafts and seat holds.
func InitializeRedis(redisAddr string, db int, log *logger.Logger) (*redis.Client, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: "", // no password
		DB:       db,
		PoolSize: 10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		log.Error("REDIS", fmt.Sprintf("Failed to connect to Redis at %s: %v", redisAddr, err))
		return nil, err
	}

	testKey := "stepping:healthcheck"
	if err := redisClient.Set(ctx, testKey, "ok", 5*time.Second).Err(); err != nil {
		log.Error("REDIS", fmt.Sprintf("Failed to write test value to Redis: %v", err))
		return nil, err
	}

	log.Info("REDIS", fmt.Sprintf("Connected to Redis at %s (db=%d)", redisAddr, db))
	return redisClient, nil
}
