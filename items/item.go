// Package items implements the Item Updater (spec.md §4.x, original
// structures/info_updater.py): watched values that can be polled, pushed
// spontaneously or validated, with automatic invalidation and timeout
// scheduling.
package items

import (
	"sync"
	"time"

	"github.com/printlink-go/core/bus"
)

// defaultOnFailInterval is the reschedule delay after a gather or
// validation failure, absent an explicit override.
const defaultOnFailInterval = 5 * time.Second

// GatherFunc fetches a fresh value, or returns an error if gathering
// failed (e.g. a serial round trip timed out).
type GatherFunc func() (any, error)

// WriteFunc stores a validated value wherever the caller wants it
// (typically a field on a shared model struct). Must never panic.
type WriteFunc func(value any)

// ValidateFunc reports whether value is acceptable. A nil ValidateFunc
// accepts everything.
type ValidateFunc func(value any) bool

// Watchable is shared behavior between Item and Group: a single validity
// flag with became-valid/became-invalid signals.
type Watchable struct {
	mu    sync.Mutex
	valid bool

	BecameValid   *bus.Signal[string]
	BecameInvalid *bus.Signal[string]
}

func newWatchable() Watchable {
	return Watchable{
		BecameValid:   bus.New[string](),
		BecameInvalid: bus.New[string](),
	}
}

// Item is a single watched value (WatchedItem). Construct with NewItem;
// zero value is not usable.
//
// Locking note (Open Question (b)): the original Python implementation
// guards each item with a re-entrant lock because set_value, _gather and
// _set_value all take item.lock and call into each other while holding it.
// This port instead only holds Item.mu across the narrow critical section
// that reads or mutates item state directly; callbacks into
// GatherFunc/ValidateFunc/WriteFunc and calls back into the Updater always
// happen with the lock released. set_value is therefore NOT required to
// be re-entrant here — a plain sync.Mutex is correct and simpler. DESIGN.md
// records this as the Open Question (b) resolution.
type Item struct {
	Watchable

	Name       string
	Gather     GatherFunc
	Write      WriteFunc
	Validate   ValidateFunc
	Interval   time.Duration // 0 means "no periodic invalidation"
	Timeout    time.Duration // 0 means "never times out"
	OnFail     time.Duration // reschedule delay after a failure

	value        any
	scheduled    bool
	invalidateAt time.Time // zero value == "not scheduled" (original's inf)
	timesOutAt   time.Time

	ValueChanged    *bus.Signal[any]
	TimedOut        *bus.Signal[struct{}]
	ErrorRefreshing *bus.Signal[error]
	ValidationError *bus.Signal[any]
	GatherOrTimeout *bus.Signal[struct{}]
}

// NewItem builds a watched item. onFailInterval of 0 uses
// defaultOnFailInterval; pass a negative duration to disable rescheduling
// on failure entirely, matching the original's on_fail_interval=None.
func NewItem(name string, gather GatherFunc, write WriteFunc, validate ValidateFunc, interval, timeout, onFailInterval time.Duration) *Item {
	if onFailInterval == 0 {
		onFailInterval = defaultOnFailInterval
	}
	return &Item{
		Watchable:       newWatchable(),
		Name:            name,
		Gather:          gather,
		Write:           write,
		Validate:        validate,
		Interval:        interval,
		Timeout:         timeout,
		OnFail:          onFailInterval,
		ValueChanged:    bus.New[any](),
		TimedOut:        bus.New[struct{}](),
		ErrorRefreshing: bus.New[error](),
		ValidationError: bus.New[any](),
		GatherOrTimeout: bus.New[struct{}](),
	}
}

// Value returns the last value written, and whether the item is currently
// valid.
func (i *Item) Value() (any, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.value, i.valid
}

func (i *Item) isScheduledInvalid() bool {
	return !i.invalidateAt.IsZero()
}
