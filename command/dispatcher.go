package command

import (
	"sync"
)

// submission pairs a Command with the bookkeeping the dispatcher needs to
// run and report it.
type submission struct {
	id       *int
	cmd      Command
	resultCh chan Result
}

// Result is what Submit's returned channel eventually carries: a result
// map, or the error the command's Run returned — a *FailedError, or a
// sentinel such as ErrInterrupted or a serial queue error (spec.md §4.3:
// "the engine converts that to a response with the originating
// command_id").
type Result struct {
	CommandID *int
	Values    map[string]any
	Err       error
}

// dispatcher reads submissions from intake and executes them via a bounded
// worker pool, tracking inflight work with a WaitGroup — a direct
// adaptation of the teacher's dispatcher.go, generalized from Task[R] to
// Command.
type dispatcher struct {
	intake   <-chan submission
	stopCh   <-chan struct{}
	eng      *Engine
	inflight *sync.WaitGroup
	pool     *cmdWorkerPool
}

func newDispatcher(intake <-chan submission, stopCh <-chan struct{}, eng *Engine, inflight *sync.WaitGroup, p *cmdWorkerPool) *dispatcher {
	return &dispatcher{intake: intake, stopCh: stopCh, eng: eng, inflight: inflight, pool: p}
}

// run pulls submissions off intake until stopCh closes (Engine.Close's
// second lifecycle step, after the running flag is cleared).
func (d *dispatcher) run() {
	for {
		select {
		case <-d.stopCh:
			return
		case sub := <-d.intake:
			d.inflight.Add(1)
			go func(s submission) {
				defer d.inflight.Done()
				w := d.pool.get()
				w.execute(d.eng, s)
				d.pool.put(w)
			}(sub)
		}
	}
}
