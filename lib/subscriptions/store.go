// Package subscriptions stores subscriptions with their channels and issues
// the API keys that authenticate them.
package subscriptions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fiffu/registrywatch/lib/models"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	maxNameLength   = 200
)

// ConfigValidator checks a channel config against the rules of its type.
type ConfigValidator interface {
	Validate(channelType models.ChannelType, config []byte) error
}

type CreateRequest struct {
	Name     string           `json:"name"`
	Filter   models.Filter    `json:"filter"`
	Channels []ChannelRequest `json:"channels"`
}

type ChannelRequest struct {
	Type   models.ChannelType `json:"type"`
	Config json.RawMessage    `json:"config"`
}

type Store struct {
	db        *gorm.DB
	log       *zap.Logger
	validator ConfigValidator
	now       func() time.Time
}

func NewStore(log *zap.Logger, db *gorm.DB, validator ConfigValidator) *Store {
	return &Store{db: db, log: log, validator: validator, now: time.Now}
}

// Create validates req, then inserts the subscription and its channels in one
// transaction. The plaintext key is returned here and never again.
func (s *Store) Create(ctx context.Context, req CreateRequest) (*models.Subscription, string, error) {
	if err := s.validate(req); err != nil {
		return nil, "", err
	}

	key, hash, err := GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}

	sub := &models.Subscription{
		Name:       strings.TrimSpace(req.Name),
		Status:     models.SubscriptionActive,
		Filter:     normalizeFilter(req.Filter),
		APIKeyHash: hash,
	}
	for _, ch := range req.Channels {
		sub.Channels = append(sub.Channels, models.Channel{
			Type:   ch.Type,
			Config: datatypes.JSON(ch.Config),
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(sub).Error
	})
	if err != nil {
		return nil, "", fmt.Errorf("create subscription: %w", err)
	}

	s.log.Sugar().Infow("Created subscription", "subscription_id", sub.ID, "channels", len(sub.Channels))
	return sub, key, nil
}

func (s *Store) validate(req CreateRequest) error {
	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		return invalid("name", "is required")
	case len(name) > maxNameLength:
		return invalid("name", "must be at most %d characters", maxNameLength)
	case len(req.Channels) == 0:
		return invalid("channels", "at least one channel is required")
	}

	for field, values := range map[string][]string{
		"filter.namespaces": req.Filter.Namespaces,
		"filter.keywords":   req.Filter.Keywords,
		"filter.servers":    req.Filter.Servers,
	} {
		for _, v := range values {
			if strings.TrimSpace(v) == "" {
				return invalid(field, "must not contain empty values")
			}
		}
	}

	for i, ch := range req.Channels {
		field := fmt.Sprintf("channels[%d]", i)
		if !ch.Type.Valid() {
			return invalid(field+".type", "unknown channel type %q", ch.Type)
		}
		if len(ch.Config) == 0 {
			return invalid(field+".config", "is required")
		}
		if err := s.validator.Validate(ch.Type, ch.Config); err != nil {
			return invalid(field+".config", "%v", err)
		}
	}
	return nil
}

func normalizeFilter(f models.Filter) models.Filter {
	trim := func(in []string) []string {
		if len(in) == 0 {
			return nil
		}
		out := make([]string, len(in))
		for i, v := range in {
			out[i] = strings.TrimSpace(v)
		}
		return out
	}
	return models.Filter{
		Namespaces: trim(f.Namespaces),
		Keywords:   trim(f.Keywords),
		Servers:    trim(f.Servers),
	}
}

// Get returns a live subscription with its channels. Deleted subscriptions are
// ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*models.Subscription, error) {
	return s.first(s.db.WithContext(ctx), "id = ?", id)
}

// GetByAPIKey resolves a plaintext key to its subscription.
func (s *Store) GetByAPIKey(ctx context.Context, plaintext string) (*models.Subscription, error) {
	if !wellFormed(plaintext) {
		return nil, ErrNotFound
	}
	hash := HashAPIKey(plaintext)
	sub, err := s.first(s.db.WithContext(ctx), "api_key_hash = ?", hash)
	if err != nil {
		return nil, err
	}
	if !hashesEqual(sub.APIKeyHash, hash) {
		return nil, ErrNotFound
	}
	return sub, nil
}

func (s *Store) first(db *gorm.DB, query string, args ...any) (*models.Subscription, error) {
	sub := &models.Subscription{}
	tx := db.
		Preload("Channels").
		Where(query, args...).
		Where("status <> ?", models.SubscriptionDeleted).
		First(sub)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return sub, nil
}

// UpdateStatus moves a subscription between active and paused. Setting the
// current status again is a no-op.
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.SubscriptionStatus) (*models.Subscription, error) {
	if status != models.SubscriptionActive && status != models.SubscriptionPaused {
		return nil, invalid("status", "must be %q or %q", models.SubscriptionActive, models.SubscriptionPaused)
	}

	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == status {
		return sub, nil
	}

	tx := s.db.WithContext(ctx).Model(sub).Update("status", status)
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("update subscription %s: %w", id, err)
	}
	sub.Status = status
	s.log.Sugar().Infow("Updated subscription status", "subscription_id", id, "status", status)
	return sub, nil
}

// Delete is terminal. The subscription stops resolving, its channels are
// removed, and its notification history is kept.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.first(tx, "id = ?", id)
		if err != nil {
			return err
		}
		if err := tx.Model(sub).Update("status", models.SubscriptionDeleted).Error; err != nil {
			return err
		}
		if err := tx.Where("subscription_id = ?", id).Delete(&models.Channel{}).Error; err != nil {
			return err
		}
		return tx.Delete(sub).Error
	})
	if err != nil {
		return err
	}
	s.log.Sugar().Infow("Deleted subscription", "subscription_id", id)
	return nil
}

// List pages through live subscriptions, oldest first. limit is clamped to
// [1, MaxPageSize] with 0 meaning DefaultPageSize.
func (s *Store) List(ctx context.Context, limit, offset int) (models.Subscriptions, int64, error) {
	limit = ClampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	live := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.Subscription{}).Where("status <> ?", models.SubscriptionDeleted)
	}

	var total int64
	if err := live().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	subs := models.Subscriptions{}
	if int64(offset) >= total {
		return subs, total, nil
	}
	tx := live().
		Preload("Channels").
		Order("created_at asc, id asc").
		Limit(limit).
		Offset(offset).
		Find(&subs)
	if err := tx.Error; err != nil {
		return nil, 0, err
	}
	return subs, total, nil
}

func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultPageSize
	case limit < 1:
		return 1
	case limit > MaxPageSize:
		return MaxPageSize
	}
	return limit
}

// ActiveWithChannels returns every subscription eligible for delivery.
func (s *Store) ActiveWithChannels(ctx context.Context) (models.Subscriptions, error) {
	subs := models.Subscriptions{}
	tx := s.db.WithContext(ctx).
		Preload("Channels").
		Where("status = ?", models.SubscriptionActive).
		Find(&subs)
	return subs, tx.Error
}

// ResetKey replaces the API key. The previous key stops working immediately.
func (s *Store) ResetKey(ctx context.Context, id string) (string, error) {
	key, hash, err := GenerateAPIKey()
	if err != nil {
		return "", err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.first(tx, "id = ?", id)
		if err != nil {
			return err
		}
		return tx.Model(sub).Updates(map[string]any{
			"api_key_hash": hash,
			"last_reset":   sql.NullTime{Time: s.now().UTC(), Valid: true},
		}).Error
	})
	if err != nil {
		return "", err
	}
	s.log.Sugar().Infow("Reset subscription key", "subscription_id", id)
	return key, nil
}
