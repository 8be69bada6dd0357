package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ChangeType string

const (
	ChangeNew     ChangeType = "new"
	ChangeUpdated ChangeType = "updated"
	ChangeRemoved ChangeType = "removed"
)

// Change is one classified delta between two snapshots. The composite unique
// index keeps a change from being recorded twice for the same snapshot pair.
type Change struct {
	ID                 string     `gorm:"primaryKey" json:"id"`
	SnapshotID         string     `gorm:"uniqueIndex:idx_change_identity;index" json:"snapshot_id"`
	PreviousSnapshotID string     `gorm:"uniqueIndex:idx_change_identity" json:"previous_snapshot_id,omitempty"`
	ServerName         string     `gorm:"uniqueIndex:idx_change_identity;index" json:"server_name"`
	ChangeType         ChangeType `gorm:"uniqueIndex:idx_change_identity" json:"change_type"`
	PreviousVersion    string     `json:"previous_version,omitempty"`
	NewVersion         string     `json:"new_version,omitempty"`
	Server             *Server    `gorm:"serializer:json" json:"server,omitempty"` // nil for removed
	DetectedAt         time.Time  `gorm:"index" json:"detected_at"`
}

type Changes []Change

func (c *Change) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Description returns the server description, or "" for removed servers.
func (c *Change) Description() string {
	if c.Server == nil {
		return ""
	}
	return c.Server.Description
}
