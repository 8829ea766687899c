package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"fabot/config"
)

var RDB *redis.Client

// ConnectRedis is optional: with no REDIS_URL the sync channel degrades to
// unavailable and everything else keeps working.
func ConnectRedis(cfg *config.Config) {
	if cfg.RedisURL == "" {
		log.Println("[Redis] REDIS_URL not set, sync events disabled")
		return
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisURL,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("[Redis] Connection to %s failed, sync events disabled: %v", cfg.RedisURL, err)
		return
	}

	RDB = rdb
	fmt.Println("Redis connected")
}
