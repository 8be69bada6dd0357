package snapshotter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fiffu/registrywatch/lib/dispatcher"
	"github.com/fiffu/registrywatch/lib/models"
	"github.com/fiffu/registrywatch/lib/snapshot"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PollResult struct {
	Snapshot *models.Snapshot
	Changed  bool
	Diff     *snapshot.DiffResult
	Delivery *dispatcher.Result
}

// Poll fetches the catalog once and compares it against the latest snapshot.
// A new snapshot and its changes are persisted only when something changed.
// Changes found on the very first poll are recorded but not dispatched, so
// subscribers are not flooded with the whole catalog.
func (s *Snapshotter) Poll(ctx context.Context, at time.Time) (*PollResult, error) {
	servers, err := s.fetcher.FetchAll(ctx)
	if err != nil {
		pollsTotal.WithLabelValues("fetch_error").Inc()
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}

	current := snapshot.Create(servers, at)
	previous, err := s.LatestSnapshot(ctx)
	if err != nil {
		pollsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	res := &PollResult{Snapshot: previous}
	if !snapshot.HasChanges(previous, current) {
		m := metricsOf(current.ServerCount, nil)
		m.record()
		s.finish(ctx, at, m, previous)
		return res, nil
	}

	current.ID = uuid.NewString()
	diff := snapshot.Compare(previous, current)
	changes := diff.Changes()

	if err := s.persist(ctx, current, changes); err != nil {
		pollsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	s.cacheLatest(ctx, current)

	res.Snapshot = current
	res.Changed = true
	res.Diff = diff

	m := metricsOf(current.ServerCount, diff)
	m.record()

	if dropped := s.hub.Publish(changes); dropped > 0 {
		s.log.Sugar().Warnw("Stream listeners too slow, dropped batch", "listeners", dropped)
	}

	if previous == nil {
		s.log.Sugar().Infow("Recorded initial snapshot", "servers", current.ServerCount)
	} else {
		delivery, err := s.dispatcher.Dispatch(ctx, changes)
		if err != nil {
			s.log.Sugar().Errorw("Dispatch incomplete", "err", err)
		}
		res.Delivery = delivery
	}

	s.finish(ctx, at, m, current)
	return res, nil
}

func (s *Snapshotter) finish(ctx context.Context, at time.Time, m *snapshotMetrics, latest *models.Snapshot) {
	s.log.Sugar().Infow("Processed catalog", m.logArgs()...)

	if latest != nil {
		s.purgeOldSnapshots(ctx, at, latest.ID)
	}

	lastPoll.Set(float64(time.Now().Unix()))
	elapsed := time.Now().UTC().Sub(at)
	s.log.Sugar().Infow("Snapshotter completed", "elapsed_msecs", int(elapsed.Milliseconds()))
}

func (s *Snapshotter) persist(ctx context.Context, snap *models.Snapshot, changes []models.Change) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(snap).Error; err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		if len(changes) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(changes, 100).Error; err != nil {
			return fmt.Errorf("save changes: %w", err)
		}
		return nil
	})
}

// LatestSnapshot returns the most recent snapshot, reading through the cache.
// It returns nil when nothing has been recorded yet.
func (s *Snapshotter) LatestSnapshot(ctx context.Context) (*models.Snapshot, error) {
	if data, err := s.cache.Get(ctx, latestSnapshotKey); err == nil {
		snap, err := snapshot.Unmarshal(data)
		if err == nil {
			return snap, nil
		}
		s.log.Sugar().Warnw("Discarding cached snapshot", "err", err)
	}

	var snap models.Snapshot
	err := s.db.WithContext(ctx).Order("created_at desc").First(&snap).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("load latest snapshot: %w", err)
	}

	s.cacheLatest(ctx, &snap)
	return &snap, nil
}

func (s *Snapshotter) cacheLatest(ctx context.Context, snap *models.Snapshot) {
	data, err := snapshot.Marshal(snap)
	if err == nil {
		err = s.cache.Set(ctx, latestSnapshotKey, data, s.snapshotTTL)
	}
	if err != nil {
		s.log.Sugar().Warnw("Failed to cache snapshot", "err", err)
	}
}

func (s *Snapshotter) purgeOldSnapshots(ctx context.Context, batchStartTime time.Time, keepID string) {
	retentionCutoff := batchStartTime.Add(-s.snapshotTTL)

	tx := s.db.WithContext(ctx).Delete(&models.Snapshot{}, "created_at < ? AND id <> ?", retentionCutoff, keepID)
	if err := tx.Error; err != nil {
		s.log.Sugar().Errorf("purgeOldSnapshots error: %+v", err)
	}
	if tx.RowsAffected > 0 {
		s.log.Sugar().Infof("Purged %d old snapshots", tx.RowsAffected)
	}
}
