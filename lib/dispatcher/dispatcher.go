// Package dispatcher fans changes out to matching subscriptions and drives
// each resulting notification to a terminal status.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fiffu/registrywatch/config"
	"github.com/fiffu/registrywatch/lib/cache"
	"github.com/fiffu/registrywatch/lib/models"
	"github.com/fiffu/registrywatch/lib/ratelimit"
	"github.com/fiffu/registrywatch/lib/subscriptions"
	"github.com/fiffu/registrywatch/senders"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sender is satisfied by senders.Registry.
type Sender interface {
	Send(ctx context.Context, ch *models.Channel, p *senders.Payload) error
}

// SubscriptionSource is satisfied by *subscriptions.Store.
type SubscriptionSource interface {
	ActiveWithChannels(ctx context.Context) (models.Subscriptions, error)
	Get(ctx context.Context, id string) (*models.Subscription, error)
}

type Dispatcher struct {
	db          *gorm.DB
	log         *zap.Logger
	subs        SubscriptionSource
	sender      Sender
	testLimiter *ratelimit.Limiter
	policy      RetryPolicy
	concurrency int
	now         func() time.Time

	wg sync.WaitGroup
}

func NewDispatcher(
	lc fx.Lifecycle,
	cfg *config.Config,
	log *zap.Logger,
	db *gorm.DB,
	store *subscriptions.Store,
	registry senders.Registry,
	c cache.Cache,
) *Dispatcher {
	policy := RetryPolicy{
		MaxAttempts: cfg.Delivery.MaxAttempts,
		BaseDelay:   cfg.Delivery.BaseDelay,
		MaxDelay:    cfg.Delivery.MaxDelay,
	}
	limiter := ratelimit.New(c, "testsend", cfg.RateLimit.TestSends, cfg.RateLimit.TestSendWindow)
	d := New(log, db, store, registry, limiter, policy, cfg.Delivery.Concurrency)

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// Notifications created from here on belong to this process's
			// own dispatches.
			startedAt := d.now()
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				if n, err := d.RetryPending(ctx, startedAt); err != nil {
					log.Sugar().Errorw("Failed to resume pending notifications", "err", err)
				} else if n > 0 {
					log.Sugar().Infow("Resumed pending notifications", "count", n)
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			return d.wait(stopCtx)
		},
	})
	return d
}

func New(
	log *zap.Logger,
	db *gorm.DB,
	subs SubscriptionSource,
	sender Sender,
	testLimiter *ratelimit.Limiter,
	policy RetryPolicy,
	concurrency int,
) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		db:          db,
		log:         log,
		subs:        subs,
		sender:      sender,
		testLimiter: testLimiter,
		policy:      policy,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// wait blocks until background work finishes or ctx expires.
func (d *Dispatcher) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result tallies the notifications handled by one call.
type Result struct {
	Created int `json:"created"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}

type delivery struct {
	notification *models.Notification
	channel      *models.Channel
	payload      *senders.Payload
}

// Dispatch records a pending notification for every (matching subscription
// channel, change) pair not seen before, then delivers them on the worker
// pool. Delivery failures are recorded on the notifications, not returned.
// The error reports only what kept notifications from being created.
func (d *Dispatcher) Dispatch(ctx context.Context, changes []models.Change) (*Result, error) {
	if len(changes) == 0 {
		return &Result{}, nil
	}

	subs, err := d.subs.ActiveWithChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}

	var errs error
	var jobs []*delivery
	for i := range subs {
		sub := &subs[i]
		m := subscriptions.NewMatcher(sub.Filter)
		for j := range changes {
			change := &changes[j]
			if !m.Match(change) {
				continue
			}
			payload := senders.NewChangePayload(sub, change, d.now())
			for k := range sub.Channels {
				ch := &sub.Channels[k]
				n, created, err := d.enqueue(ctx, ch, change)
				if err != nil {
					errs = multierr.Append(errs, err)
					continue
				}
				if created {
					jobs = append(jobs, &delivery{n, ch, payload})
				}
			}
		}
	}

	res := d.run(ctx, jobs)
	res.Created = len(jobs)
	if res.Created > 0 {
		d.log.Sugar().Infow("Dispatched changes",
			"changes", len(changes),
			"notifications", res.Created,
			"sent", res.Sent,
			"failed", res.Failed,
			"pending", res.Pending,
		)
	}
	return res, errs
}

// enqueue inserts a pending notification. created is false when this change
// was already queued for this channel.
func (d *Dispatcher) enqueue(ctx context.Context, ch *models.Channel, change *models.Change) (*models.Notification, bool, error) {
	n := &models.Notification{
		SubscriptionID: ch.SubscriptionID,
		ChannelID:      ch.ID,
		ChangeID:       change.ID,
		ChannelType:    ch.Type,
		Status:         models.NotificationPending,
	}
	tx := d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(n)
	if err := tx.Error; err != nil {
		return nil, false, fmt.Errorf("enqueue change %s for channel %s: %w", change.ID, ch.ID, err)
	}
	return n, tx.RowsAffected > 0, nil
}

func (d *Dispatcher) run(ctx context.Context, jobs []*delivery) *Result {
	res := &Result{}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			status := d.deliver(ctx, job)
			mu.Lock()
			defer mu.Unlock()
			switch status {
			case models.NotificationSent:
				res.Sent++
			case models.NotificationFailed:
				res.Failed++
			default:
				res.Pending++
			}
			return nil
		})
	}
	g.Wait()
	return res
}

// deliver attempts one notification until it is sent, runs out of attempts,
// or ctx is cancelled. A cancelled notification stays pending for
// RetryPending to pick up.
func (d *Dispatcher) deliver(ctx context.Context, job *delivery) models.NotificationStatus {
	n := job.notification
	ch := job.channel
	log := d.log.Sugar().With("notification_id", n.ID, "channel_id", ch.ID, "channel_type", ch.Type)

	for n.Attempts < d.policy.MaxAttempts {
		start := time.Now()
		err := d.sender.Send(ctx, ch, job.payload)
		deliveryDuration.WithLabelValues(string(ch.Type)).Observe(time.Since(start).Seconds())

		if err != nil && ctx.Err() != nil {
			log.Infow("Delivery interrupted, leaving notification pending", "attempts", n.Attempts)
			return models.NotificationPending
		}

		n.Attempts++
		if err == nil {
			deliveryAttempts.WithLabelValues(string(ch.Type), "success").Inc()
			d.settle(n, models.NotificationSent, "")
			log.Debugw("Delivered notification", "attempts", n.Attempts)
			return models.NotificationSent
		}

		deliveryAttempts.WithLabelValues(string(ch.Type), "failure").Inc()
		n.LastError = err.Error()
		if n.Attempts >= d.policy.MaxAttempts {
			break
		}

		d.save(n, map[string]any{"attempts": n.Attempts, "last_error": n.LastError})
		wait := d.policy.Backoff(n.Attempts)
		log.Infow("Delivery failed, will retry", "attempts", n.Attempts, "retry_in", wait.String(), "err", err)
		if err := sleep(ctx, wait); err != nil {
			log.Infow("Delivery interrupted, leaving notification pending", "attempts", n.Attempts)
			return models.NotificationPending
		}
	}

	d.settle(n, models.NotificationFailed, n.LastError)
	log.Warnw("Delivery failed permanently", "attempts", n.Attempts, "err", n.LastError)
	return models.NotificationFailed
}

func (d *Dispatcher) settle(n *models.Notification, status models.NotificationStatus, lastError string) {
	n.Status = status
	fields := map[string]any{
		"status":     status,
		"attempts":   n.Attempts,
		"last_error": lastError,
	}
	if status == models.NotificationSent {
		fields["sent_at"] = d.now().UTC()
	}
	d.save(n, fields)
	notificationsSettled.WithLabelValues(string(n.ChannelType), string(status)).Inc()
}

// save outlives the delivery context so that progress made before a shutdown
// is still recorded.
func (d *Dispatcher) save(n *models.Notification, fields map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", n.ID).Updates(fields).Error; err != nil {
		d.log.Sugar().Errorw("Failed to record delivery", "notification_id", n.ID, "err", err)
	}
}

// RetryPending resumes notifications left pending by an earlier process, that
// is, those created before the given cutoff. Notifications whose change,
// channel or subscription is gone are failed. Those of paused subscriptions
// are left alone.
func (d *Dispatcher) RetryPending(ctx context.Context, before time.Time) (int, error) {
	var pending models.Notifications
	tx := d.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.NotificationPending, before).
		Order("created_at asc").
		Find(&pending)
	if err := tx.Error; err != nil {
		return 0, fmt.Errorf("load pending notifications: %w", err)
	}

	var jobs []*delivery
	for i := range pending {
		n := &pending[i]
		job, reason, err := d.rebuild(ctx, n)
		switch {
		case err != nil:
			return 0, err
		case reason != "":
			d.settle(n, models.NotificationFailed, reason)
		case job != nil:
			jobs = append(jobs, job)
		}
	}

	d.run(ctx, jobs)
	return len(jobs), nil
}

func (d *Dispatcher) rebuild(ctx context.Context, n *models.Notification) (*delivery, string, error) {
	db := d.db.WithContext(ctx)

	sub := &models.Subscription{}
	if err := db.Unscoped().First(sub, "id = ?", n.SubscriptionID).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "subscription no longer exists", nil
	} else if err != nil {
		return nil, "", err
	}
	switch sub.Status {
	case models.SubscriptionDeleted:
		return nil, "subscription deleted", nil
	case models.SubscriptionPaused:
		return nil, "", nil
	}

	ch := &models.Channel{}
	if err := db.First(ch, "id = ?", n.ChannelID).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "channel no longer exists", nil
	} else if err != nil {
		return nil, "", err
	}

	change := &models.Change{}
	if err := db.First(change, "id = ?", n.ChangeID).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "change no longer exists", nil
	} else if err != nil {
		return nil, "", err
	}

	return &delivery{n, ch, senders.NewChangePayload(sub, change, d.now())}, "", nil
}

type TestResult struct {
	ChannelID string             `json:"channel_id"`
	Type      models.ChannelType `json:"type"`
	Success   bool               `json:"success"`
	Error     string             `json:"error,omitempty"`
}

// TestChannels sends one test payload to every channel of a subscription,
// without retries. Calls per subscription are rate limited.
func (d *Dispatcher) TestChannels(ctx context.Context, subscriptionID string) ([]TestResult, error) {
	sub, err := d.subs.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := d.testLimiter.Check(ctx, subscriptionID); err != nil {
		return nil, err
	}

	payload := senders.NewTestPayload(sub, d.now())
	results := make([]TestResult, len(sub.Channels))

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i := range sub.Channels {
		ch := &sub.Channels[i]
		g.Go(func() error {
			r := TestResult{ChannelID: ch.ID, Type: ch.Type, Success: true}
			if err := d.sender.Send(ctx, ch, payload); err != nil {
				r.Success = false
				r.Error = err.Error()
			}
			results[i] = r
			return nil
		})
	}
	g.Wait()
	return results, nil
}
