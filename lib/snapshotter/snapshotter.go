// Package snapshotter polls the registry on an interval, records changed
// snapshots and hands the detected changes to the dispatcher.
package snapshotter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fiffu/registrywatch/config"
	"github.com/fiffu/registrywatch/lib/cache"
	"github.com/fiffu/registrywatch/lib/dispatcher"
	"github.com/fiffu/registrywatch/lib/models"
	"github.com/fiffu/registrywatch/lib/registry"
	"github.com/fiffu/registrywatch/lib/stream"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const latestSnapshotKey = "snapshot:latest"

type Fetcher interface {
	FetchAll(ctx context.Context) ([]models.Server, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, changes []models.Change) (*dispatcher.Result, error)
}

func NewSnapshotter(
	lc fx.Lifecycle,
	cfg *config.Config,
	db *gorm.DB,
	log *zap.Logger,
	c cache.Cache,
	client *registry.Client,
	d *dispatcher.Dispatcher,
	hub *stream.Hub,
) *Snapshotter {
	s := New(db, log, c, client, d, hub, cfg.Poll.Interval, cfg.Poll.SnapshotTTL)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Sugar().Info("Trying to stop snapshotter")
			return s.Stop(ctx)
		},
	})

	return s
}

func New(
	db *gorm.DB,
	log *zap.Logger,
	c cache.Cache,
	fetcher Fetcher,
	dispatcher Dispatcher,
	hub *stream.Hub,
	pollInterval, snapshotTTL time.Duration,
) *Snapshotter {
	return &Snapshotter{
		db:          db,
		log:         log,
		cache:       c,
		fetcher:     fetcher,
		dispatcher:  dispatcher,
		hub:         hub,
		alarmClock:  NewAlarmClock(pollInterval),
		snapshotTTL: snapshotTTL,
	}
}

type Snapshotter struct {
	db         *gorm.DB
	log        *zap.Logger
	cache      cache.Cache
	fetcher    Fetcher
	dispatcher Dispatcher
	hub        *stream.Hub

	mu         sync.Mutex // held for the duration of one poll
	alarmClock *alarmClock
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	skipped    atomic.Int64

	snapshotTTL time.Duration // Purge snapshots older than this, except the latest
}

// Start begins polling in the background. The first poll runs immediately.
func (s *Snapshotter) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	c := s.alarmClock.Start(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for evt := range c {
			if !s.mu.TryLock() {
				s.skipped.Add(1)
				pollsTotal.WithLabelValues("skipped").Inc()
				s.log.Sugar().Warnw("Previous poll still running, skipping", "reason", evt.Reason())
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.mu.Unlock()
				s.handleEvent(ctx, evt)
			}()
		}
	}()
}

// Stop cancels the running poll and waits for it to wind down or for ctx to
// expire.
func (s *Snapshotter) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Sugar().Info("Snapshotter stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PollNow requests a poll outside the regular interval. It reports false when
// a request is already queued.
func (s *Snapshotter) PollNow() bool {
	return s.alarmClock.Wake("manual")
}

// Skipped counts wakeups dropped because a poll was still running.
func (s *Snapshotter) Skipped() int64 {
	return s.skipped.Load()
}

func (s *Snapshotter) handleEvent(ctx context.Context, evt Event) {
	switch evt.(type) {
	case pollWakeupEvent:
		if _, err := s.Poll(ctx, evt.Timestamp().UTC()); err != nil {
			s.log.Sugar().Errorw("Poll failed", "reason", evt.Reason(), "err", err)
		}
	}
}
