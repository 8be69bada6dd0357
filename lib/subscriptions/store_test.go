package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/fiffu/registrywatch/lib/models"
	"github.com/fiffu/registrywatch/lib/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type validatorFunc func(models.ChannelType, []byte) error

func (f validatorFunc) Validate(t models.ChannelType, config []byte) error { return f(t, config) }

// Requires a url on every channel.
var requireURL = validatorFunc(func(_ models.ChannelType, config []byte) error {
	var c struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(config, &c); err != nil {
		return err
	}
	if c.URL == "" {
		return errors.New("url is required")
	}
	return nil
})

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	db := testutil.NewDB(t)
	return NewStore(zap.NewNop(), db, requireURL), db
}

func webhookRequest(name string) CreateRequest {
	return CreateRequest{
		Name:   name,
		Filter: models.Filter{Namespaces: []string{"io.github.acme.*"}},
		Channels: []ChannelRequest{
			{Type: models.ChannelWebhook, Config: json.RawMessage(`{"url":"https://example.com/hook"}`)},
		},
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	sub, key, err := store.Create(ctx, webhookRequest("  acme watcher "))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, "rw_"))
	assert.Len(t, key, 67)
	assert.Equal(t, HashAPIKey(key), sub.APIKeyHash)
	assert.NotContains(t, sub.APIKeyHash, key)
	assert.Equal(t, "acme watcher", sub.Name)
	assert.Equal(t, models.SubscriptionActive, sub.Status)

	got, err := store.Get(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, got.Channels, 1)
	assert.Equal(t, models.ChannelWebhook, got.Channels[0].Type)
	assert.JSONEq(t, `{"url":"https://example.com/hook"}`, string(got.Channels[0].Config))
	assert.Equal(t, []string{"io.github.acme.*"}, got.Filter.Namespaces)

	byKey, err := store.GetByAPIKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, byKey.ID)
}

func TestCreate_ValidationPersistsNothing(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)

	cases := map[string]func(*CreateRequest){
		"no name":          func(r *CreateRequest) { r.Name = " " },
		"no channels":      func(r *CreateRequest) { r.Channels = nil },
		"unknown type":     func(r *CreateRequest) { r.Channels[0].Type = "pager" },
		"missing config":   func(r *CreateRequest) { r.Channels[0].Config = nil },
		"malformed config": func(r *CreateRequest) { r.Channels[0].Config = json.RawMessage(`{"uri":"x"}`) },
		"empty keyword":    func(r *CreateRequest) { r.Filter.Keywords = []string{""} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := webhookRequest("x")
			mutate(&req)

			_, key, err := store.Create(ctx, req)
			assert.True(t, IsValidationError(err), "got %v", err)
			assert.Empty(t, key)
		})
	}

	var subs, channels int64
	db.Model(&models.Subscription{}).Count(&subs)
	db.Model(&models.Channel{}).Count(&channels)
	assert.Zero(t, subs)
	assert.Zero(t, channels)
}

func TestGetByAPIKey_Rejects(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	_, key, err := store.Create(ctx, webhookRequest("a"))
	require.NoError(t, err)

	flipped := key[:len(key)-1] + "0"
	if flipped == key {
		flipped = key[:len(key)-1] + "1"
	}
	for _, bad := range []string{"", "garbage", key + "0", strings.ToUpper(key), flipped} {
		_, err := store.GetByAPIKey(ctx, bad)
		assert.ErrorIs(t, err, ErrNotFound, bad)
	}
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	sub, _, err := store.Create(ctx, webhookRequest("a"))
	require.NoError(t, err)

	for _, status := range []models.SubscriptionStatus{models.SubscriptionPaused, models.SubscriptionPaused, models.SubscriptionActive} {
		got, err := store.UpdateStatus(ctx, sub.ID, status)
		require.NoError(t, err)
		assert.Equal(t, status, got.Status)

		reloaded, err := store.Get(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, status, reloaded.Status)
	}

	_, err = store.UpdateStatus(ctx, sub.ID, models.SubscriptionDeleted)
	assert.True(t, IsValidationError(err))

	_, err = store.UpdateStatus(ctx, "missing", models.SubscriptionPaused)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)
	sub, key, err := store.Create(ctx, webhookRequest("a"))
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.Notification{
		SubscriptionID: sub.ID,
		ChannelID:      sub.Channels[0].ID,
		ChangeID:       "change-1",
		ChannelType:    models.ChannelWebhook,
		Status:         models.NotificationSent,
		Attempts:       1,
	}).Error)

	require.NoError(t, store.Delete(ctx, sub.ID))

	_, err = store.Get(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetByAPIKey(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.UpdateStatus(ctx, sub.ID, models.SubscriptionActive)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, sub.ID), ErrNotFound)

	var channels, notifications int64
	db.Model(&models.Channel{}).Count(&channels)
	db.Model(&models.Notification{}).Where("subscription_id = ?", sub.ID).Count(&notifications)
	assert.Zero(t, channels)
	assert.EqualValues(t, 1, notifications)

	_, total, err := store.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, total)

	active, err := store.ActiveWithChannels(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	for i := 0; i < 3; i++ {
		_, _, err := store.Create(ctx, webhookRequest(fmt.Sprintf("sub-%d", i)))
		require.NoError(t, err)
	}

	page, total, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, page, 2)
	assert.Len(t, page[0].Channels, 1)

	page, _, err = store.List(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	page, total, err = store.List(ctx, 10, 50)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Empty(t, page)

	page, _, err = store.List(ctx, 5000, 0)
	require.NoError(t, err)
	assert.Len(t, page, 3)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultPageSize, ClampLimit(0))
	assert.Equal(t, 1, ClampLimit(-4))
	assert.Equal(t, 42, ClampLimit(42))
	assert.Equal(t, MaxPageSize, ClampLimit(1000))
}

func TestActiveWithChannels_SkipsPaused(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	a, _, err := store.Create(ctx, webhookRequest("a"))
	require.NoError(t, err)
	b, _, err := store.Create(ctx, webhookRequest("b"))
	require.NoError(t, err)
	_, err = store.UpdateStatus(ctx, b.ID, models.SubscriptionPaused)
	require.NoError(t, err)

	active, err := store.ActiveWithChannels(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)
	assert.Len(t, active[0].Channels, 1)
}

func TestResetKey(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	sub, oldKey, err := store.Create(ctx, webhookRequest("a"))
	require.NoError(t, err)
	assert.False(t, sub.LastReset.Valid)

	newKey, err := store.ResetKey(ctx, sub.ID)
	require.NoError(t, err)
	assert.NotEqual(t, oldKey, newKey)

	_, err = store.GetByAPIKey(ctx, oldKey)
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := store.GetByAPIKey(ctx, newKey)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
	assert.True(t, got.LastReset.Valid)
}

func TestCreate_Concurrent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	var wg sync.WaitGroup
	keys := make([]string, 10)
	errs := make([]error, 10)
	for i := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, keys[i], errs[i] = store.Create(ctx, webhookRequest(fmt.Sprintf("sub-%d", i)))
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for i, key := range keys {
		require.NoError(t, errs[i])
		seen[key] = true
	}
	assert.Len(t, seen, 10)

	subs, total, err := store.List(ctx, 100, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 10, total)
	ids := map[string]bool{}
	for _, s := range subs {
		ids[s.ID] = true
	}
	assert.Len(t, ids, 10)
}
