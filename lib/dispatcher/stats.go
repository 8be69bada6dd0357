package dispatcher

import (
	"context"

	"github.com/fiffu/registrywatch/lib/models"
	"github.com/fiffu/registrywatch/lib/subscriptions"
)

// Stats summarizes the notification log. Retried counts notifications that
// needed more than one attempt, whatever their outcome.
type Stats struct {
	Total       int64                                `json:"total"`
	Sent        int64                                `json:"sent"`
	Failed      int64                                `json:"failed"`
	Pending     int64                                `json:"pending"`
	Retried     int64                                `json:"retried"`
	SuccessRate float64                              `json:"success_rate"`
	ByChannel   map[models.ChannelType]*ChannelStats `json:"by_channel"`
}

type ChannelStats struct {
	Total   int64 `json:"total"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Pending int64 `json:"pending"`
	Retried int64 `json:"retried"`
}

type channelRow struct {
	ChannelType models.ChannelType
	ChannelStats
}

// Stats aggregates the notification log, across all subscriptions when
// subscriptionID is empty.
func (d *Dispatcher) Stats(ctx context.Context, subscriptionID string) (*Stats, error) {
	var rows []channelRow

	q := d.db.WithContext(ctx).
		Model(&models.Notification{}).
		Select(`channel_type,
			count(*) as total,
			sum(case when status = ? then 1 else 0 end) as sent,
			sum(case when status = ? then 1 else 0 end) as failed,
			sum(case when status = ? then 1 else 0 end) as pending,
			sum(case when attempts > 1 then 1 else 0 end) as retried`,
			models.NotificationSent, models.NotificationFailed, models.NotificationPending,
		).
		Group("channel_type")
	if subscriptionID != "" {
		q = q.Where("subscription_id = ?", subscriptionID)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}

	s := &Stats{ByChannel: make(map[models.ChannelType]*ChannelStats, len(rows))}
	for _, r := range rows {
		c := r.ChannelStats
		s.ByChannel[r.ChannelType] = &c
		s.Total += c.Total
		s.Sent += c.Sent
		s.Failed += c.Failed
		s.Pending += c.Pending
		s.Retried += c.Retried
	}
	if settled := s.Sent + s.Failed; settled > 0 {
		s.SuccessRate = float64(s.Sent) / float64(settled)
	}
	return s, nil
}

// ListNotifications pages through a subscription's delivery log, newest first.
func (d *Dispatcher) ListNotifications(ctx context.Context, subscriptionID string, limit, offset int) (models.Notifications, int64, error) {
	limit = subscriptions.ClampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := d.db.WithContext(ctx).Model(&models.Notification{}).Where("subscription_id = ?", subscriptionID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	out := models.Notifications{}
	tx := d.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at desc, id desc").
		Limit(limit).
		Offset(offset).
		Find(&out)
	return out, total, tx.Error
}
