package middlewares

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter per client IP kept in Redis.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

func rateLimitKey(ip string) string {
	return "rate-limit:" + ip
}

func (rl *RateLimiter) Middleware(c *gin.Context) {
	key := rateLimitKey(c.ClientIP())
	ctx := c.Request.Context()

	count, err := rl.client.Incr(ctx, key).Result()
	if err == nil && count == 1 {
		// first hit of the window sets the expiry
		err = rl.client.Expire(ctx, key, rl.window).Err()
	}
	if err != nil {
		// fail open
		_ = c.Error(err)
		c.Next()
		return
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}
	c.Next()
}
