package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification records the delivery of one change to one channel. A change is
// delivered to a channel at most once, enforced by idx_notification_delivery.
type Notification struct {
	ID             string             `gorm:"primaryKey"`
	SubscriptionID string             `gorm:"index;not null"`
	ChannelID      string             `gorm:"uniqueIndex:idx_notification_delivery;not null"`
	ChangeID       string             `gorm:"uniqueIndex:idx_notification_delivery;not null"`
	ChannelType    ChannelType        `gorm:"not null"`
	Status         NotificationStatus `gorm:"index;not null"`
	Attempts       int
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	SentAt         sql.NullTime
}

type Notifications []Notification

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = NotificationPending
	}
	return nil
}
