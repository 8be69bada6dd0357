package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests against a live server; set REDIS_ADDRESS to run them.
func newTestRedis(t *testing.T) *Redis {
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		t.Skip("REDIS_ADDRESS not set, skipping redis integration tests")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return NewRedis(client)
}

func TestRedis_GetSetDelete(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	_, err := c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, key, []byte("v"), time.Minute))
	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, key))
	_, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedis_Increment(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()
	key := "test:" + uuid.NewString()
	t.Cleanup(func() { c.Delete(ctx, key) })

	n, exp, err := c.Increment(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 2*time.Second)

	n, _, err = c.Increment(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
