// Package cache abstracts the key/value store shared by the poll loop and the
// rate limiter, so a single process can run on memory and a fleet on redis.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when a key is absent or expired.
var ErrCacheMiss = errors.New("cache: key not found")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero ttl keeps the value until deleted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Increment adds one to the counter at key and returns the new count and
	// when the counter expires. A missing counter is created at 1 with the
	// given ttl; an existing counter keeps its original expiry.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, time.Time, error)
}
