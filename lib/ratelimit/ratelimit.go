// Package ratelimit counts requests per key in fixed windows over a
// cache.Cache, so limits hold across processes when the cache is shared.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/fiffu/registrywatch/lib/cache"
)

// Limiter allows up to limit hits per key in each window. A window starts at
// the first hit for a key and ends when its counter expires.
type Limiter struct {
	cache  cache.Cache
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func New(c cache.Cache, prefix string, limit int, window time.Duration) *Limiter {
	return &Limiter{cache: c, prefix: prefix, limit: limit, window: window, now: time.Now}
}

type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// ExceededError is returned by callers that turn a rejected Decision into an
// error.
type ExceededError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Key, e.RetryAfter.Round(time.Second))
}

func (l *Limiter) Limit() int { return l.limit }
func (l *Limiter) Window() time.Duration { return l.window }

// Increment counts one hit on key and reports the count within the current
// window and when that window resets.
func (l *Limiter) Increment(ctx context.Context, key string) (int64, time.Time, error) {
	return l.cache.Increment(ctx, l.prefix+":"+key, l.window)
}

// Allow counts one hit on key and decides whether it fits the limit. Rejected
// hits are still counted.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	count, resetAt, err := l.Increment(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if resetAt.IsZero() {
		resetAt = l.now().Add(l.window)
	}

	d := Decision{
		Allowed: count <= int64(l.limit),
		Count:   count,
		Limit:   l.limit,
		ResetAt: resetAt,
	}
	if remaining := int64(l.limit) - count; remaining > 0 {
		d.Remaining = int(remaining)
	}
	if !d.Allowed {
		d.RetryAfter = resetAt.Sub(l.now())
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
	}
	return d, nil
}

// Check is Allow for callers that want an error instead of a Decision.
func (l *Limiter) Check(ctx context.Context, key string) error {
	d, err := l.Allow(ctx, key)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return &ExceededError{Key: key, RetryAfter: d.RetryAfter}
	}
	return nil
}
