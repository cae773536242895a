package command

import "fmt"

// cmdWorker executes one submission at a time; Engine recycles these
// through a cmdWorkerPool exactly as the teacher's dispatcher.go recycles
// worker[R] through pool.Pool, trading a generic task executor for one that
// runs a Command against this module's Engine.
type cmdWorker struct{}

func (w *cmdWorker) execute(eng *Engine, sub submission) {
	defer func() {
		if r := recover(); r != nil {
			eng.cfg.Logger.Error("command execution panicked", "command", sub.cmd.Name(), "panic", r)
			sub.resultCh <- Result{
				CommandID: sub.id,
				Err:       newFailure(sub.id, sub.cmd.Name(), fmt.Sprintf("command execution panicked: %v", r)),
			}
		}
	}()

	values, err := sub.cmd.Run(eng)
	if err != nil {
		eng.cfg.Logger.Debug("command failed", "command", sub.cmd.Name(), "error", err)
	}
	sub.resultCh <- Result{CommandID: sub.id, Values: values, Err: err}
}
