package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fiffu/registrywatch/lib/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAllow_LimitThenReject(t *testing.T) {
	ctx := context.Background()
	l := New(cache.NewMemory(time.Minute), "test", 3, time.Hour)

	for i := 1; i <= 3; i++ {
		d, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "hit %d", i)
		assert.EqualValues(t, i, d.Count)
		assert.Equal(t, 3-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	assert.InDelta(t, time.Hour.Seconds(), d.RetryAfter.Seconds(), 2)

	other, err := l.Allow(ctx, "other")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")
}

func TestAllow_WindowExpiry(t *testing.T) {
	ctx := context.Background()
	l := New(cache.NewMemory(time.Minute), "test", 1, 30*time.Millisecond)

	d, _ := l.Allow(ctx, "k")
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, "k")
	assert.False(t, d.Allowed)

	time.Sleep(60 * time.Millisecond)
	d, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.EqualValues(t, 1, d.Count)
}

func TestCheck_ExceededError(t *testing.T) {
	ctx := context.Background()
	l := New(cache.NewMemory(time.Minute), "test", 1, time.Minute)

	require.NoError(t, l.Check(ctx, "k"))
	err := l.Check(ctx, "k")

	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, "k", exceeded.Key)
	assert.Positive(t, exceeded.RetryAfter)
}

func TestMiddleware(t *testing.T) {
	l := New(cache.NewMemory(time.Minute), "http", 2, time.Minute)
	h := Middleware(l, ByClientIP, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(addr, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:5555", "").Code)
	rec := do("10.0.0.1:5556", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = do("10.0.0.1:5555", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded","retry_after":60}`, rec.Body.String())

	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:5555", "rw_abc").Code, "headers do not open a new bucket")
	assert.Equal(t, http.StatusNoContent, do("10.0.0.2:5555", "").Code)
}

func TestEnforce_CacheFailureLetsRequestThrough(t *testing.T) {
	l := New(failingCache{}, "http", 1, time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	assert.True(t, Enforce(rec, req, l, "ip:x", zap.NewNop()))
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestByClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	req.Header.Set("X-API-Key", "rw_y")
	assert.Equal(t, "ip:192.0.2.7", ByClientIP(req))

	req.RemoteAddr = "192.0.2.8"
	assert.Equal(t, "ip:192.0.2.8", ByClientIP(req))
}

type failingCache struct{ cache.Cache }

func (failingCache) Increment(context.Context, string, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("cache down")
}
