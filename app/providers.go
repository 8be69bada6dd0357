package app

import (
	"github.com/fiffu/registrywatch/lib/subscriptions"
	"github.com/fiffu/registrywatch/senders"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewSubscriptionStore validates channel configs against the sender registry.
func NewSubscriptionStore(log *zap.Logger, db *gorm.DB, registry senders.Registry) *subscriptions.Store {
	return subscriptions.NewStore(log, db, registry)
}
