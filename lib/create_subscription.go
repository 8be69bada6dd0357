package lib

import (
	"context"
	"fmt"

	"github.com/fiffu/registrywatch/config"
	"github.com/fiffu/registrywatch/lib/models"
	"github.com/fiffu/registrywatch/lib/subscriptions"
)

type subscribe struct {
	cfg  *config.Config
	subs *subscriptions.Store
}

// CreateSubscription stores the subscription and returns its API key. The key
// is not recoverable afterwards.
func (svc *subscribe) CreateSubscription(ctx context.Context, req subscriptions.CreateRequest) (*models.Subscription, string, error) {
	if err := svc.checkEmailConfigured(req); err != nil {
		return nil, "", err
	}
	return svc.subs.Create(ctx, req)
}

// checkEmailConfigured rejects email channels up front when no mail provider
// is set up, instead of letting every delivery fail later.
func (svc *subscribe) checkEmailConfigured(req subscriptions.CreateRequest) error {
	if svc.cfg == nil || svc.cfg.Mailgun.Domain != "" {
		return nil
	}
	for i, ch := range req.Channels {
		if ch.Type == models.ChannelEmail {
			return &subscriptions.ValidationError{
				Field:  fmt.Sprintf("channels[%d].type", i),
				Reason: "email delivery is not configured on this server",
			}
		}
	}
	return nil
}
