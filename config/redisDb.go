package config

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// RedisCache wraps the shared client. A nil *RedisCache or a nil Client is a valid,
// always-missing cache so callers never branch on whether Redis is configured.
type RedisCache struct {
	Client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{Client: client}
}

func (c *RedisCache) enabled() bool {
	return c != nil && c.Client != nil
}

// Locker returns a redislock client bound to the cache connection, or nil.
func (c *RedisCache) Locker() *redislock.Client {
	if !c.enabled() {
		return nil
	}
	return redislock.New(c.Client)
}

func (c *RedisCache) GetObject(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !c.enabled() {
		return false, nil
	}
	val, err := c.Client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) SetObject(ctx context.Context, key string, obj interface{}, exp time.Duration) error {
	if !c.enabled() {
		return nil
	}
	objInByte, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, key, objInByte, exp).Err()
}

func (c *RedisCache) Remove(ctx context.Context, keys ...string) error {
	if !c.enabled() {
		return nil
	}
	return c.Client.Del(ctx, keys...).Err()
}

// ConnectRedisWithRetry returns nil when REDIS_ADDRESS is unset; the service then runs with
// in-process Matrix locking and no user cache.
func ConnectRedisWithRetry(ctx context.Context) (*redis.Client, error) {
	redisAddr := os.Getenv("REDIS_ADDRESS")
	if redisAddr == "" {
		log.Printf("REDIS_ADDRESS not set; redis disabled")
		return nil, nil
	}

	return retryConnect(ctx, "redis "+redisAddr, func() (*redis.Client, error) {
		rdb := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       intFromEnv("REDIS_DB", 0),
			PoolSize: intFromEnv("REDIS_POOL_SIZE", 100),
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, err
		}
		return rdb, nil
	})
}
