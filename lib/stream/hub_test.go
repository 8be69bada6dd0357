package stream

import (
	"testing"

	"github.com/fiffu/registrywatch/lib/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_Broadcast(t *testing.T) {
	h := NewHub()
	a, unsubA := h.Subscribe()
	b, unsubB := h.Subscribe()
	defer unsubB()

	batch := []models.Change{{ServerName: "x"}}
	assert.Zero(t, h.Publish(batch))
	assert.Equal(t, batch, <-a)
	assert.Equal(t, batch, <-b)

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, h.Listeners())
}

func TestHub_SlowListenerDrops(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe()
	defer unsub()

	batch := []models.Change{{ServerName: "x"}}
	for i := 0; i < h.buffer; i++ {
		require.Zero(t, h.Publish(batch))
	}
	assert.Equal(t, 1, h.Publish(batch))
	assert.Len(t, ch, h.buffer)
}

func TestHub_EmptyBatchIsNotPublished(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe()
	defer unsub()

	h.Publish(nil)
	assert.Len(t, ch, 0)
}
