package items

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/printlink-go/core/bus"
	"github.com/printlink-go/core/metrics"
)

// quitInterval bounds how long each of the updater's goroutines can be
// blocked before re-checking the running flag, matching the original's
// quit_interval = 0.2.
const quitInterval = 200 * time.Millisecond

// Updater is the Item Updater: it owns three dedicated goroutines
// (refresher, invalidator, timeout-watcher) that drive every registered
// Item through gather -> validate -> write, with automatic invalidation
// and timeout handling.
type Updater struct {
	running *bus.Running
	life    *bus.Lifecycle

	invalidateTimers *timerQueue
	timeoutTimers    *timerQueue
	refreshQueue     chan *Item

	watchedMu sync.Mutex
	watched   map[string]*Item

	done chan struct{}

	log          *slog.Logger
	metrics      metrics.Provider
	gatherErrors metrics.Counter
}

// New builds an Updater. Call Start to launch its goroutines and Stop to
// shut them down.
func New(opts ...Option) *Updater {
	u := &Updater{
		running:          bus.NewRunning(),
		invalidateTimers: newTimerQueue(),
		timeoutTimers:    newTimerQueue(),
		refreshQueue:     make(chan *Item, 256),
		watched:          map[string]*Item{},
		done:             make(chan struct{}),
		log:              slog.Default(),
		metrics:          metrics.NewNoopProvider(),
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.gatherErrors == nil {
		u.gatherErrors = u.metrics.Counter("item_gather_errors", metrics.WithDescription("gather failures across all watched items"))
	}
	return u
}

// Start launches the refresher, invalidator and timeout-watcher
// goroutines.
func (u *Updater) Start() {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); u.refresherLoop() }()
	go func() { defer wg.Done(); u.invalidatorLoop() }()
	go func() { defer wg.Done(); u.timeoutLoop() }()

	u.life = bus.NewLifecycle(
		func() { u.running.Stop() },
		func() { wg.Wait() },
	)
}

// Stop halts all three goroutines, waiting for them to exit.
func (u *Updater) Stop() {
	if u.life != nil {
		u.life.Stop()
	}
}

// Add registers item and immediately invalidates it, scheduling a first
// gather (add_watched_item).
func (u *Updater) Add(item *Item) {
	u.watchedMu.Lock()
	u.watched[item.Name] = item
	u.watchedMu.Unlock()
	u.Invalidate(item)
}

// Get looks up a watched item by name.
func (u *Updater) Get(name string) (*Item, bool) {
	u.watchedMu.Lock()
	defer u.watchedMu.Unlock()
	it, ok := u.watched[name]
	return it, ok
}

// InvalidateGroup invalidates every member of g.
func (u *Updater) InvalidateGroup(g *Group) {
	for _, it := range g.Items() {
		u.Invalidate(it)
	}
}

// Invalidate marks item invalid (if not already) and enqueues it for
// refresh if it isn't already scheduled.
func (u *Updater) Invalidate(item *Item) {
	item.mu.Lock()
	item.invalidateAt = time.Time{}
	wasValid := item.valid
	if wasValid {
		item.valid = false
	}
	needsEnqueue := !item.scheduled
	if needsEnqueue {
		u.enqueueRefreshLocked(item)
	}
	item.mu.Unlock()

	if wasValid {
		item.BecameInvalid.Send(item.Name)
	}
}

// SetValue validates value and, if acceptable, writes it through the
// item's WriteFunc and marks it valid. On a validation failure it
// publishes the item's error signals and reschedules a refresh via
// OnFail, mirroring set_value/_gather_error_reschedule.
func (u *Updater) SetValue(item *Item, value any) {
	if item.Validate != nil && !item.Validate(value) {
		item.ValidationError.Send(value)
		item.GatherOrTimeout.Send(struct{}{})
		u.gatherErrorReschedule(item)
		return
	}
	u.setValueInternal(item, value)
}

func (u *Updater) setValueInternal(item *Item, value any) {
	item.mu.Lock()
	changed := item.value != value
	item.value = value
	wasInvalid := !item.valid
	item.valid = true
	item.timesOutAt = time.Time{}
	hasInterval := item.Interval > 0
	item.mu.Unlock()

	item.Write(value)

	if hasInterval {
		u.ScheduleInvalidation(item, item.Interval, true)
	}
	if wasInvalid {
		item.BecameValid.Send(item.Name)
	}
	if changed {
		item.ValueChanged.Send(value)
	}
}

// ScheduleInvalidation schedules item to be invalidated after interval,
// unless one is already pending and force is false. interval <= 0 uses
// item.Interval; if that is also <= 0 this panics, matching the
// original's AttributeError for an unset interval.
func (u *Updater) ScheduleInvalidation(item *Item, interval time.Duration, force bool) {
	item.mu.Lock()
	if item.isScheduledInvalid() && !force {
		item.mu.Unlock()
		return
	}
	if interval <= 0 {
		interval = item.Interval
	}
	if interval <= 0 {
		item.mu.Unlock()
		panic(fmt.Errorf("items: no interval specified for item %s", item.Name))
	}
	at := time.Now().Add(interval)
	item.invalidateAt = at
	item.mu.Unlock()

	u.invalidateTimers.push(at, item, at)
}

// CancelScheduledInvalidation cancels a pending invalidation. The queued
// timer entry is left in place but its tag will no longer match, so the
// invalidator skips it.
func (u *Updater) CancelScheduledInvalidation(item *Item) {
	item.mu.Lock()
	item.invalidateAt = time.Time{}
	item.mu.Unlock()
}

func (u *Updater) gatherErrorReschedule(item *Item) {
	if item.OnFail <= 0 {
		return
	}
	u.ScheduleInvalidation(item, item.OnFail, false)
}

// enqueueRefreshLocked must be called with item.mu held. It schedules a
// timeout timer (if the item has one and none is pending) and pushes the
// item onto the refresh queue.
func (u *Updater) enqueueRefreshLocked(item *Item) {
	if item.Timeout > 0 && item.timesOutAt.IsZero() {
		at := time.Now().Add(item.Timeout)
		item.timesOutAt = at
		u.timeoutTimers.push(at, item, at)
	}
	item.scheduled = true
	select {
	case u.refreshQueue <- item:
	default:
		go func() { u.refreshQueue <- item }()
	}
}

func (u *Updater) refresherLoop() {
	for u.running.Get() {
		select {
		case item := <-u.refreshQueue:
			item.mu.Lock()
			item.scheduled = false
			item.mu.Unlock()
			u.gather(item)
		case <-time.After(quitInterval):
		}
	}
}

func (u *Updater) gather(item *Item) {
	_, valid := item.Value()
	if valid {
		return
	}
	value, err := item.Gather()
	if err != nil {
		u.gatherErrors.Add(1)
		u.log.Debug("item gather failed", "item", item.Name, "error", err)
		item.ErrorRefreshing.Send(err)
		item.GatherOrTimeout.Send(struct{}{})
		u.gatherErrorReschedule(item)
		return
	}
	u.SetValue(item, value)
}

func (u *Updater) invalidatorLoop() {
	for u.running.Get() {
		entry, ok := u.invalidateTimers.peek()
		if !ok {
			select {
			case <-u.invalidateTimers.wake:
			case <-time.After(quitInterval):
			}
			continue
		}

		item := entry.item
		item.mu.Lock()
		stale := item.invalidateAt != entry.tag
		item.mu.Unlock()
		if stale {
			u.invalidateTimers.pop()
			continue
		}

		wait := time.Until(entry.at)
		if wait > 0 {
			select {
			case <-u.invalidateTimers.wake:
			case <-time.After(minDuration(wait, quitInterval)):
			}
			continue
		}

		u.invalidateTimers.pop()
		u.Invalidate(item)
	}
}

func (u *Updater) timeoutLoop() {
	for u.running.Get() {
		entry, ok := u.timeoutTimers.peek()
		if !ok {
			select {
			case <-u.timeoutTimers.wake:
			case <-time.After(quitInterval):
			}
			continue
		}

		item := entry.item
		item.mu.Lock()
		stale := item.timesOutAt != entry.tag
		item.mu.Unlock()
		if stale {
			u.timeoutTimers.pop()
			continue
		}

		wait := time.Until(entry.at)
		if wait > 0 {
			select {
			case <-u.timeoutTimers.wake:
			case <-time.After(minDuration(wait, quitInterval)):
			}
			continue
		}

		u.timeoutTimers.pop()
		u.timeOut(item)
	}
}

func (u *Updater) timeOut(item *Item) {
	item.mu.Lock()
	item.timesOutAt = time.Time{}
	item.mu.Unlock()
	item.TimedOut.Send(struct{}{})
	item.GatherOrTimeout.Send(struct{}{})
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
