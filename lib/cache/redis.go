package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Cache shared between processes.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return val, err
}

// Set with a zero ttl means no expiration, same as redis SET.
func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *Redis) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Increment runs SETNX+INCR+PTTL in one MULTI so concurrent callers across
// processes see a single counter with the expiry set by the first of them.
func (c *Redis) Increment(ctx context.Context, key string, ttl time.Duration) (int64, time.Time, error) {
	var incr *redis.IntCmd
	var pttl *redis.DurationCmd

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, ttl)
		incr = pipe.Incr(ctx, key)
		pttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, time.Time{}, err
	}

	var expiresAt time.Time
	if d := pttl.Val(); d > 0 {
		expiresAt = time.Now().Add(d)
	}
	return incr.Val(), expiresAt, nil
}
