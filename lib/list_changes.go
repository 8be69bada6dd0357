package lib

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/fiffu/registrywatch/lib/models"
	"github.com/fiffu/registrywatch/lib/snapshotter"
	"github.com/fiffu/registrywatch/lib/subscriptions"
	"gorm.io/gorm"
)

const (
	DefaultChangeLimit = 100
	MaxChangeLimit     = 1000

	scanPageSize = 500
)

var ErrChangeNotFound = errors.New("change not found")

type changes struct {
	db    *gorm.DB
	snaps *snapshotter.Snapshotter
}

// ChangeQuery selects changes detected at or after Since that pass Filter.
type ChangeQuery struct {
	Since  time.Time
	Filter models.Filter
	Limit  int
}

// ListChanges returns matching changes, newest first.
func (svc *changes) ListChanges(ctx context.Context, q ChangeQuery) (models.Changes, error) {
	limit := clampChangeLimit(q.Limit)
	m := subscriptions.NewMatcher(q.Filter)

	out := make(models.Changes, 0)
	for offset := 0; ; offset += scanPageSize {
		page := make(models.Changes, 0, scanPageSize)
		tx := svc.db.WithContext(ctx).Where("detected_at >= ?", q.Since.UTC())
		if len(q.Filter.Servers) > 0 {
			tx = tx.Where("server_name IN ?", q.Filter.Servers)
		}
		err := tx.
			Order("detected_at desc").
			Order("server_name asc").
			Limit(scanPageSize).
			Offset(offset).
			Find(&page).Error
		if err != nil {
			return nil, fmt.Errorf("list changes: %w", err)
		}

		for i := range page {
			if !m.Match(&page[i]) {
				continue
			}
			out = append(out, page[i])
			if len(out) == limit {
				return out, nil
			}
		}
		if len(page) < scanPageSize {
			return out, nil
		}
	}
}

func (svc *changes) GetChange(ctx context.Context, id string) (*models.Change, error) {
	c := &models.Change{}
	err := svc.db.WithContext(ctx).First(c, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrChangeNotFound
	case err != nil:
		return nil, fmt.Errorf("get change: %w", err)
	}
	return c, nil
}

// ListServers searches the latest snapshot. An empty query returns every
// server, sorted by name.
func (svc *changes) ListServers(ctx context.Context, query string) (models.Servers, *models.Snapshot, error) {
	snap, err := svc.snaps.LatestSnapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	if snap == nil {
		return models.Servers{}, nil, nil
	}

	filter := models.Filter{}
	if q := strings.TrimSpace(query); q != "" {
		filter.Keywords = []string{q}
	}
	m := subscriptions.NewMatcher(filter)

	out := make(models.Servers, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		if m.MatchServer(e.Server.Name, e.Server.Description) {
			out = append(out, e.Server)
		}
	}
	slices.SortFunc(out, func(a, b models.Server) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, snap, nil
}

func clampChangeLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultChangeLimit
	case limit < 1:
		return 1
	case limit > MaxChangeLimit:
		return MaxChangeLimit
	}
	return limit
}
