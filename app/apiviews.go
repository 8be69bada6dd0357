package app

import (
	"database/sql"
	"time"

	"github.com/fiffu/registrywatch/lib/models"
)

type SubscriptionView struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Status    string        `json:"status"`
	Filter    models.Filter `json:"filter"`
	Channels  []ChannelView `json:"channels"`
	CreatedAt string        `json:"created_at"`
	UpdatedAt string        `json:"updated_at"`
	LastReset *string       `json:"last_reset"`
}

// ChannelView leaves out the config, which carries tokens and secrets.
type ChannelView struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
}

type NotificationView struct {
	ID             string  `json:"id"`
	SubscriptionID string  `json:"subscription_id"`
	ChannelID      string  `json:"channel_id"`
	ChannelType    string  `json:"channel_type"`
	ChangeID       string  `json:"change_id"`
	Status         string  `json:"status"`
	Attempts       int     `json:"attempts"`
	LastError      string  `json:"last_error,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
	SentAt         *string `json:"sent_at"`
}

func (view ChannelView) From(entity *models.Channel) ChannelView {
	return ChannelView{
		ID:        entity.ID,
		Type:      string(entity.Type),
		CreatedAt: timestamp(entity.CreatedAt),
	}
}

func (view SubscriptionView) From(entity *models.Subscription) SubscriptionView {
	channels := FromMany[models.Channel, ChannelView](entity.Channels)
	return SubscriptionView{
		ID:        entity.ID,
		Name:      entity.Name,
		Status:    string(entity.Status),
		Filter:    entity.Filter,
		Channels:  channels,
		CreatedAt: timestamp(entity.CreatedAt),
		UpdatedAt: timestamp(entity.UpdatedAt),
		LastReset: isoformat(entity.LastReset),
	}
}

func (view NotificationView) From(entity *models.Notification) NotificationView {
	return NotificationView{
		ID:             entity.ID,
		SubscriptionID: entity.SubscriptionID,
		ChannelID:      entity.ChannelID,
		ChannelType:    string(entity.ChannelType),
		ChangeID:       entity.ChangeID,
		Status:         string(entity.Status),
		Attempts:       entity.Attempts,
		LastError:      entity.LastError,
		CreatedAt:      timestamp(entity.CreatedAt),
		UpdatedAt:      timestamp(entity.UpdatedAt),
		SentAt:         isoformat(entity.SentAt),
	}
}

type Fromable[Entity any, Repr any] interface {
	From(Entity) Repr
}

func FromMany[T any, U Fromable[*T, U]](elems []T) []U {
	out := make([]U, len(elems))
	for i := range elems {
		var u U
		out[i] = u.From(&elems[i])
	}
	return out
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func isoformat(t sql.NullTime) *string {
	if t.Valid {
		s := timestamp(t.Time)
		return &s
	}
	return nil
}
