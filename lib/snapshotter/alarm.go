package snapshotter

import (
	"context"
	"time"
)

type Event interface {
	Timestamp() time.Time
	Reason() string
}

type event struct {
	timestamp time.Time
	reason    string
}

func (e event) Timestamp() time.Time { return e.timestamp }
func (e event) Reason() string       { return e.reason }

type pollWakeupEvent struct {
	event
}

// alarmClock emits a wakeup immediately on start, then on every interval and
// whenever Wake is called. Emission blocks until the consumer reads, so the
// consumer decides whether a wakeup is acted on or dropped.
type alarmClock struct {
	interval time.Duration
	wakeC    chan pollWakeupEvent
	C        chan Event
}

func NewAlarmClock(wakeupInterval time.Duration) *alarmClock {
	return &alarmClock{
		interval: wakeupInterval,
		wakeC:    make(chan pollWakeupEvent, 1),
		C:        make(chan Event),
	}
}

// Start runs until ctx is cancelled, then closes C.
func (a *alarmClock) Start(ctx context.Context) <-chan Event {
	go func() {
		defer close(a.C)

		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		if !a.emit(ctx, pollWakeupEvent{event{time.Now(), "startup"}}) {
			return
		}
		for {
			var e Event
			select {
			case t := <-ticker.C:
				e = pollWakeupEvent{event{t, "interval"}}
			case e = <-a.wakeC:
			case <-ctx.Done():
				return
			}
			if !a.emit(ctx, e) {
				return
			}
		}
	}()

	return a.C
}

func (a *alarmClock) emit(ctx context.Context, e Event) bool {
	select {
	case a.C <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

// Wake asks for an extra wakeup. It reports false if one is already queued.
func (a *alarmClock) Wake(reason string) bool {
	select {
	case a.wakeC <- pollWakeupEvent{event{time.Now(), reason}}:
		return true
	default:
		return false
	}
}
