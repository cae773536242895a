package items

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUpdaterAddGathersOnce(t *testing.T) {
	u := New()
	u.Start()
	defer u.Stop()

	var mu sync.Mutex
	var written any
	item := NewItem("temp.nozzle",
		func() (any, error) { return 42, nil },
		func(v any) { mu.Lock(); written = v; mu.Unlock() },
		nil, 0, 0, -1,
	)

	u.Add(item)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return written == 42
	}, time.Second, 5*time.Millisecond)

	v, valid := item.Value()
	require.True(t, valid)
	require.Equal(t, 42, v)
}

func TestUpdaterGatherFailureStaysInvalidAndRetries(t *testing.T) {
	u := New()
	u.Start()
	defer u.Stop()

	var calls int
	var mu sync.Mutex
	item := NewItem("flaky",
		func() (any, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls < 3 {
				return nil, errors.New("gather failed")
			}
			return "ok", nil
		},
		func(any) {}, nil, 0, 0, 20*time.Millisecond,
	)

	u.Add(item)

	require.Eventually(t, func() bool {
		_, valid := item.Value()
		return valid
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUpdaterValidationFailureRejectsValue(t *testing.T) {
	u := New()
	u.Start()
	defer u.Stop()

	var validationErr bool
	item := NewItem("bounded",
		func() (any, error) { return -1, nil },
		func(any) {},
		func(v any) bool { return v.(int) >= 0 },
		0, 0, -1,
	)
	item.ValidationError.Connect(func(any) { validationErr = true })

	u.Add(item)

	require.Eventually(t, func() bool { return validationErr }, time.Second, 5*time.Millisecond)
	_, valid := item.Value()
	require.False(t, valid)
}

func TestUpdaterInvalidateReschedulesRefresh(t *testing.T) {
	u := New()
	u.Start()
	defer u.Stop()

	var mu sync.Mutex
	n := 0
	item := NewItem("count",
		func() (any, error) { mu.Lock(); n++; v := n; mu.Unlock(); return v, nil },
		func(any) {}, nil, 0, 0, -1,
	)
	u.Add(item)

	require.Eventually(t, func() bool {
		v, valid := item.Value()
		return valid && v == 1
	}, time.Second, 5*time.Millisecond)

	u.Invalidate(item)

	require.Eventually(t, func() bool {
		v, valid := item.Value()
		return valid && v == 2
	}, time.Second, 5*time.Millisecond)
}

func TestUpdaterScheduleInvalidationPeriodic(t *testing.T) {
	u := New()
	u.Start()
	defer u.Stop()

	var mu sync.Mutex
	n := 0
	item := NewItem("periodic",
		func() (any, error) { mu.Lock(); n++; v := n; mu.Unlock(); return v, nil },
		func(any) {}, nil, 30*time.Millisecond, 0, -1,
	)
	u.Add(item)

	require.Eventually(t, func() bool {
		v, valid := item.Value()
		return valid && v.(int) >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUpdaterTimeoutFiresWhenNeverGathers(t *testing.T) {
	u := New()
	u.Start()
	defer u.Stop()
	release := make(chan struct{})
	defer close(release)

	timedOut := make(chan struct{}, 1)
	item := NewItem("stuck",
		func() (any, error) { <-release; return nil, errors.New("released") },
		func(any) {}, nil, 0, 20*time.Millisecond, -1,
	)
	item.TimedOut.Connect(func(struct{}) {
		select {
		case timedOut <- struct{}{}:
		default:
		}
	})

	u.Add(item)

	select {
	case <-timedOut:
	case <-time.After(time.Second):
		t.Fatal("expected a timeout signal")
	}
}

func TestGroupBecomesValidOnlyWhenAllMembersValid(t *testing.T) {
	a := NewItem("a", func() (any, error) { return 1, nil }, func(any) {}, nil, 0, 0, -1)
	b := NewItem("b", func() (any, error) { return 1, nil }, func(any) {}, nil, 0, 0, -1)
	g := NewGroup(a, b)
	require.False(t, g.Valid())

	u := New()
	u.Start()
	defer u.Stop()
	u.Add(a)
	require.Eventually(t, func() bool { _, ok := a.Value(); return ok }, time.Second, 5*time.Millisecond)
	require.False(t, g.Valid())

	u.Add(b)
	require.Eventually(t, func() bool { return g.Valid() }, time.Second, 5*time.Millisecond)
}

func TestGroupBecomesInvalidOnFirstMemberInvalidation(t *testing.T) {
	a := NewItem("a", func() (any, error) { return 1, nil }, func(any) {}, nil, 0, 0, -1)
	b := NewItem("b", func() (any, error) { return 1, nil }, func(any) {}, nil, 0, 0, -1)

	u := New()
	u.Start()
	defer u.Stop()
	u.Add(a)
	u.Add(b)

	g := NewGroup(a, b)
	require.Eventually(t, func() bool { return g.Valid() }, time.Second, 5*time.Millisecond)

	var becameInvalid bool
	g.BecameInvalid.Connect(func(string) { becameInvalid = true })
	u.Invalidate(a)

	require.Eventually(t, func() bool { return becameInvalid }, time.Second, 5*time.Millisecond)
}

func TestNewGroupPanicsWithNoMembers(t *testing.T) {
	require.Panics(t, func() { NewGroup() })
}
