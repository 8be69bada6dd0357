package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemory_SetExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemory_IncrementKeepsFirstExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)

	n, first, err := c.Increment(ctx, "hits", time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.WithinDuration(t, time.Now().Add(time.Hour), first, time.Second)

	n, second, err := c.Increment(ctx, "hits", 5*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.True(t, first.Equal(second))
}

func TestMemory_IncrementRestartsAfterExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)

	for i := 0; i < 3; i++ {
		_, _, err := c.Increment(ctx, "hits", 30*time.Millisecond)
		require.NoError(t, err)
	}
	time.Sleep(60 * time.Millisecond)

	n, _, err := c.Increment(ctx, "hits", 30*time.Millisecond)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMemory_IncrementConcurrent(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Increment(ctx, "hits", time.Hour)
		}()
	}
	wg.Wait()

	n, _, err := c.Increment(ctx, "hits", time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 51, n)
}
