package bus

import "sync"

// Lifecycle encapsulates a cooperative-shutdown sequence shared by every
// long-lived component in this module (serial.Queue, items.Updater,
// command.Engine). It is a direct adaptation of the teacher's
// lifecycleCoordinator (lifecycle.go): it doesn't own the channels or
// goroutines, it only orchestrates stopping them in a deterministic order,
// exactly once.
type Lifecycle struct {
	steps []func()
	once  sync.Once
}

// NewLifecycle builds a Lifecycle that runs steps, in order, on the first
// call to Stop.
func NewLifecycle(steps ...func()) *Lifecycle {
	return &Lifecycle{steps: steps}
}

// Stop runs the shutdown sequence exactly once, even under concurrent
// calls.
func (l *Lifecycle) Stop() {
	l.once.Do(func() {
		for _, step := range l.steps {
			if step != nil {
				step()
			}
		}
	})
}

// Running is a cooperative stop flag checked at every suspension point, per
// spec §5: "every long-lived loop checks a running flag and exits on the
// next tick after it flips false". Safe for concurrent use.
type Running struct {
	mu  sync.RWMutex
	run bool
}

// NewRunning returns a Running flag initialized to true.
func NewRunning() *Running {
	return &Running{run: true}
}

// Get reports whether the flag is still set.
func (r *Running) Get() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.run
}

// Stop clears the flag. Idempotent.
func (r *Running) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.run = false
}
