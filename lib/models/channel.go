package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ChannelType string

const (
	ChannelWebhook  ChannelType = "webhook"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
	ChannelEmail    ChannelType = "email"
	ChannelTelegram ChannelType = "telegram"
	ChannelTeams    ChannelType = "teams"
)

var ChannelTypes = []ChannelType{
	ChannelWebhook, ChannelDiscord, ChannelSlack, ChannelEmail, ChannelTelegram, ChannelTeams,
}

func (t ChannelType) Valid() bool {
	return slices.Contains(ChannelTypes, t)
}

// Channel is a delivery target owned by exactly one subscription. Config holds
// the per-type settings as JSON, validated by the sender for that type.
type Channel struct {
	ID             string      `gorm:"primaryKey"`
	SubscriptionID string      `gorm:"index;not null"`
	Type           ChannelType `gorm:"not null"`
	Config         datatypes.JSON
	CreatedAt      time.Time
}

func (c *Channel) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
