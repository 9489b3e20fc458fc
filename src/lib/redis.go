package lib

import (
	"context"
	"log"
	"os"

	"github.com/redis/go-redis/v9"
)

var redisClient *redis.Client

// GetRedisClient returns the shared client backing the seller balance and
// auth token caches. A bad REDIS_HOST yields nil and callers fall through
// to their source of truth.
func GetRedisClient() *redis.Client {
	if redisClient != nil {
		return redisClient
	}
	redisHost := os.Getenv("REDIS_HOST")
	opt, err := redis.ParseURL(redisHost)
	if err != nil {
		log.Printf("[redis] Error parsing connection string: %s\n", err.Error())
		return nil
	}
	rdb := redis.NewClient(opt)
	redisClient = rdb
	return rdb
}

// PingRedis checks cache connectivity at boot so a misconfigured
// REDIS_HOST shows up in the logs instead of as silent cache misses.
func PingRedis(ctx context.Context) error {
	rdb := GetRedisClient()
	if rdb == nil {
		return redis.ErrClosed
	}
	return rdb.Ping(ctx).Err()
}

// NewRedisClient Replace redis instance with custom client implementation
func NewRedisClient(c *redis.Client) *redis.Client {
	redisClient = c
	return redisClient
}
