// Package lib is the facade the API and CLI talk to. It ties the subscription
// store, the dispatcher and the poll loop together.
package lib

import (
	"context"
	"errors"

	"github.com/fiffu/registrywatch/config"
	"github.com/fiffu/registrywatch/lib/dispatcher"
	"github.com/fiffu/registrywatch/lib/models"
	"github.com/fiffu/registrywatch/lib/snapshotter"
	"github.com/fiffu/registrywatch/lib/stream"
	"github.com/fiffu/registrywatch/lib/subscriptions"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound = subscriptions.ErrNotFound

	// ErrUnauthorized is returned for every failed key check, whether or not
	// the subscription exists.
	ErrUnauthorized = errors.New("unauthorized")
)

type Service struct {
	cfg *config.Config
	log *zap.Logger
	db  *gorm.DB

	subs        *subscriptions.Store
	dispatcher  *dispatcher.Dispatcher
	snapshotter *snapshotter.Snapshotter
	hub         *stream.Hub

	*subscribe
	*changes
}

func NewService(
	cfg *config.Config,
	log *zap.Logger,
	db *gorm.DB,
	subs *subscriptions.Store,
	d *dispatcher.Dispatcher,
	snaps *snapshotter.Snapshotter,
	hub *stream.Hub,
) *Service {
	return &Service{
		cfg, log, db,
		subs, d, snaps, hub,
		&subscribe{cfg, subs},
		&changes{db, snaps},
	}
}

// Authenticate checks that key belongs to the subscription id.
func (svc *Service) Authenticate(ctx context.Context, id, key string) (*models.Subscription, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	sub, err := svc.subs.GetByAPIKey(ctx, key)
	switch {
	case errors.Is(err, subscriptions.ErrNotFound):
		return nil, ErrUnauthorized
	case err != nil:
		return nil, err
	case sub.ID != id:
		return nil, ErrUnauthorized
	}
	return sub, nil
}

func (svc *Service) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	return svc.subs.Get(ctx, id)
}

func (svc *Service) ListSubscriptions(ctx context.Context, limit, offset int) (models.Subscriptions, int64, error) {
	return svc.subs.List(ctx, limit, offset)
}

func (svc *Service) UpdateSubscriptionStatus(ctx context.Context, id string, status models.SubscriptionStatus) (*models.Subscription, error) {
	return svc.subs.UpdateStatus(ctx, id, status)
}

func (svc *Service) DeleteSubscription(ctx context.Context, id string) error {
	return svc.subs.Delete(ctx, id)
}

func (svc *Service) ResetSubscriptionKey(ctx context.Context, id string) (string, error) {
	return svc.subs.ResetKey(ctx, id)
}

func (svc *Service) TestSubscription(ctx context.Context, id string) ([]dispatcher.TestResult, error) {
	return svc.dispatcher.TestChannels(ctx, id)
}

func (svc *Service) ListNotifications(ctx context.Context, subscriptionID string, limit, offset int) (models.Notifications, int64, error) {
	return svc.dispatcher.ListNotifications(ctx, subscriptionID, limit, offset)
}

// DeliveryStats aggregates the notification log. An empty subscriptionID
// covers every subscription.
func (svc *Service) DeliveryStats(ctx context.Context, subscriptionID string) (*dispatcher.Stats, error) {
	return svc.dispatcher.Stats(ctx, subscriptionID)
}

// TriggerPoll asks the poll loop for an extra poll.
func (svc *Service) TriggerPoll() bool {
	return svc.snapshotter.PollNow()
}

// StreamChanges registers a listener for newly detected changes.
func (svc *Service) StreamChanges() (<-chan []models.Change, func()) {
	return svc.hub.Subscribe()
}
