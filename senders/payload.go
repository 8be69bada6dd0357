package senders

import (
	"fmt"
	"time"

	"github.com/fiffu/registrywatch/lib/models"
)

const EventTest = "test"

// Payload is the channel-neutral description of one event. Each sender
// renders it in its vendor's format; webhooks receive it as is.
type Payload struct {
	Event            string            `json:"event"`
	SubscriptionID   string            `json:"subscription_id"`
	SubscriptionName string            `json:"subscription_name"`
	ChangeID         string            `json:"change_id,omitempty"`
	ServerName       string            `json:"server_name,omitempty"`
	ChangeType       models.ChangeType `json:"change_type,omitempty"`
	PreviousVersion  string            `json:"previous_version,omitempty"`
	NewVersion       string            `json:"new_version,omitempty"`
	Server           *models.Server    `json:"server,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}

func NewChangePayload(sub *models.Subscription, c *models.Change, now time.Time) *Payload {
	return &Payload{
		Event:            "server." + string(c.ChangeType),
		SubscriptionID:   sub.ID,
		SubscriptionName: sub.Name,
		ChangeID:         c.ID,
		ServerName:       c.ServerName,
		ChangeType:       c.ChangeType,
		PreviousVersion:  c.PreviousVersion,
		NewVersion:       c.NewVersion,
		Server:           c.Server,
		Timestamp:        now.UTC(),
	}
}

func NewTestPayload(sub *models.Subscription, now time.Time) *Payload {
	return &Payload{
		Event:            EventTest,
		SubscriptionID:   sub.ID,
		SubscriptionName: sub.Name,
		Timestamp:        now.UTC(),
	}
}

func (p *Payload) IsTest() bool {
	return p.Event == EventTest
}

func (p *Payload) Title() string {
	switch p.ChangeType {
	case models.ChangeNew:
		return "New server: " + p.ServerName
	case models.ChangeUpdated:
		return "Server updated: " + p.ServerName
	case models.ChangeRemoved:
		return "Server removed: " + p.ServerName
	}
	return "registrywatch test notification"
}

func (p *Payload) Summary() string {
	switch p.ChangeType {
	case models.ChangeNew:
		return fmt.Sprintf("%s %s was added to the registry.", p.ServerName, p.NewVersion)
	case models.ChangeUpdated:
		return fmt.Sprintf("%s changed from %s to %s.", p.ServerName, orUnknown(p.PreviousVersion), orUnknown(p.NewVersion))
	case models.ChangeRemoved:
		return fmt.Sprintf("%s %s was removed from the registry.", p.ServerName, p.PreviousVersion)
	}
	return fmt.Sprintf("Subscription %q is able to receive notifications on this channel.", p.SubscriptionName)
}

func (p *Payload) Description() string {
	if p.Server == nil {
		return ""
	}
	return p.Server.Description
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// Brand colours per change type, shared by the chat renderers.
func (p *Payload) color() int {
	switch p.ChangeType {
	case models.ChangeNew:
		return 0x2ECC71
	case models.ChangeUpdated:
		return 0x3498DB
	case models.ChangeRemoved:
		return 0xE74C3C
	}
	return 0x95A5A6
}
