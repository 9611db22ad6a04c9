package cache

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vibecoderz/mentor/internal/logger"
)

const counterKeyPrefix = "mentor:interventions:"

type redisCounter struct {
	log *logger.Logger
	rdb *goredis.Client
}

// NewRedisCounter connects to redis and returns a Counter whose keys
// expire with the rolling window. Multi-instance deployments share the
// same daily-cap state this way.
func NewRedisCounter(addr string, log *logger.Logger) (Counter, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisCounter{
		log: log.With("service", "redis-counter"),
		rdb: rdb,
	}, nil
}

func (c *redisCounter) Incr(ctx context.Context, userID string, window time.Duration) (int64, error) {
	key := counterKeyPrefix + userID
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if n == 1 {
		if err := c.rdb.Expire(ctx, key, window).Err(); err != nil {
			c.log.Warn("failed to set counter expiry", "key", key, "error", err)
		}
	}
	return n, nil
}

func (c *redisCounter) Count(ctx context.Context, userID string) (int64, error) {
	n, err := c.rdb.Get(ctx, counterKeyPrefix+userID).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get counter: %w", err)
	}
	return n, nil
}

func (c *redisCounter) Close() error { return c.rdb.Close() }
