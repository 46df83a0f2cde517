package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Counter abstracts the fixed-window counter so tests can stub Redis.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter implements Counter on a shared Redis instance.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter constructs a Redis-backed counter.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr bumps the window counter and arms its expiry in one round trip.
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Limiter applies per-route, per-client fixed-window rate limits.
type Limiter struct {
	counter Counter
	logger  *zap.Logger
}

// New constructs a limiter.
func New(counter Counter, logger *zap.Logger) *Limiter {
	return &Limiter{counter: counter, logger: logger.Named("ratelimit")}
}

// PerMinute returns a gin middleware enforcing limit requests per minute for
// the named route, keyed by client IP. Counter failures fail open: the
// limiter protects capacity, it must not take the service down with it.
func (l *Limiter) PerMinute(route string, limit int) gin.HandlerFunc {
	return l.middleware(route, int64(limit), time.Minute)
}

func (l *Limiter) middleware(route string, limit int64, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		bucket := time.Now().Unix() / int64(window.Seconds())
		key := fmt.Sprintf("ratelimit:%s:%s:%d", route, c.ClientIP(), bucket)

		count, err := l.counter.Incr(c.Request.Context(), key, window)
		if err != nil {
			l.logger.Warn("counter unavailable, allowing request",
				zap.String("route", route), zap.Error(err))
			c.Next()
			return
		}

		if count > limit {
			l.logger.Info("rate limit exceeded",
				zap.String("route", route),
				zap.String("client", c.ClientIP()),
				zap.Int64("count", count),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		c.Next()
	}
}
