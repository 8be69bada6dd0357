package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionPaused  SubscriptionStatus = "paused"
	SubscriptionDeleted SubscriptionStatus = "deleted"
)

type Subscription struct {
	ID         string             `gorm:"primaryKey"`
	Name       string             `gorm:"not null"`
	Status     SubscriptionStatus `gorm:"index;not null"`
	Filter     Filter             `gorm:"embedded;embeddedPrefix:filter_"`
	APIKeyHash string             `gorm:"uniqueIndex;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastReset  sql.NullTime
	DeletedAt  gorm.DeletedAt `gorm:"index"`

	Channels []Channel
}

type Subscriptions []Subscription

// Filter narrows which changes a subscription receives. Empty dimensions do
// not constrain anything.
type Filter struct {
	Namespaces []string `gorm:"serializer:json" json:"namespaces,omitempty"`
	Keywords   []string `gorm:"serializer:json" json:"keywords,omitempty"`
	Servers    []string `gorm:"serializer:json" json:"servers,omitempty"`
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = SubscriptionActive
	}
	return nil
}
