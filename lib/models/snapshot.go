package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Snapshot is an immutable capture of the whole catalog.
type Snapshot struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
	ServerCount int       `json:"server_count"`
	Entries     Entries   `gorm:"serializer:json" json:"entries"`
}

type Snapshots []Snapshot

// Entries maps a server name to its captured content.
type Entries map[string]Entry

type Entry struct {
	Hash   string `json:"hash"`
	Server Server `json:"server"`
}

func (s *Snapshot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.ServerCount = len(s.Entries)
	return nil
}
