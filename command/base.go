package command

import (
	"regexp"
	"time"

	"github.com/printlink-go/core/bus"
	"github.com/printlink-go/core/serial"
	"github.com/printlink-go/core/state"
)

// Command is a single high-level operation (spec.md §4.3: "each command is
// a stateful object with a single run() operation"). Concrete commands
// embed base and implement Run.
type Command interface {
	// Name identifies the command for FailedError/metrics/logging.
	Name() string

	// Run executes the command against eng, returning a result map or an
	// error: a *FailedError, or a sentinel such as ErrInterrupted or an
	// error from the serial queue. Implementations should return promptly once base's
	// running flag (shared with the Engine) clears.
	Run(eng *Engine) (map[string]any, error)

	attach(id *int, source state.Source, running *bus.Running, quitInterval time.Duration)
}

// base is embedded by every concrete command; it carries the correlation
// and cancellation plumbing the Engine injects before calling Run, mirroring
// the original's Command.__init__(command_id, source) plus its running
// flag (a process-wide instance in the original, passed in explicitly here
// per this module's no-globals design note).
type base struct {
	commandID    *int
	source       state.Source
	running      *bus.Running
	quitInterval time.Duration
}

func (b *base) attach(id *int, source state.Source, running *bus.Running, quitInterval time.Duration) {
	b.commandID = id
	b.source = source
	b.running = running
	b.quitInterval = quitInterval
}

func (b *base) fail(name, reason string) (map[string]any, error) {
	return nil, newFailure(b.commandID, name, reason)
}

func (b *base) failWrap(name, reason string, cause error) (map[string]any, error) {
	return nil, newFailureWrap(b.commandID, name, reason, cause)
}

// waitWhileRunning polls in quitInterval slices until instr completes or
// the shared running flag clears (spec.md §4.3: "a wait_while_running(...)
// helper that polls in QUIT_INTERVAL slices so shutdown is bounded").
func (b *base) waitWhileRunning(instr *serial.Instruction) {
	for b.running.Get() {
		select {
		case <-instr.Done():
			return
		case <-time.After(b.quitInterval):
		}
	}
}

// doInstruction enqueues a plain instruction confirmed by "ok" and waits
// for it cooperatively, returning the instruction and whether it was
// interrupted by shutdown rather than confirmed/failed outright.
func (b *base) doInstruction(q *serial.Queue, gcode string) (*serial.Instruction, error) {
	return b.dispatchAndWait(q, serial.NewInstruction(gcode), false)
}

// doInstructionFront is doInstruction but jumps the queue (spec.md §4.3
// ExecuteGcode: "enqueues each non-empty line at the front of the queue").
func (b *base) doInstructionFront(q *serial.Queue, gcode string) (*serial.Instruction, error) {
	return b.dispatchAndWait(q, serial.NewInstruction(gcode), true)
}

// doMatchable enqueues an instruction whose confirmation is completion, the
// given regex (StartPrint's M23 open-result, ResetPrinter's boot banner
// wait uses a bare handler instead, see reset_printer.go).
func (b *base) doMatchable(q *serial.Queue, gcode string, completion *regexp.Regexp) (*serial.Instruction, error) {
	return b.dispatchAndWait(q, serial.NewMatchable(gcode, completion), false)
}

// doMatchableFront is doMatchable, jumping the queue (spec.md §4.3
// ExecuteGcode).
func (b *base) doMatchableFront(q *serial.Queue, gcode string, completion *regexp.Regexp) (*serial.Instruction, error) {
	return b.dispatchAndWait(q, serial.NewMatchable(gcode, completion), true)
}

func (b *base) dispatchAndWait(q *serial.Queue, instr *serial.Instruction, toFront bool) (*serial.Instruction, error) {
	if err := q.Enqueue(instr, toFront); err != nil {
		return instr, err
	}
	b.waitWhileRunning(instr)
	if !b.running.Get() {
		return instr, ErrInterrupted
	}
	if failed, reason := instr.Failed(); failed {
		return instr, reason
	}
	return instr, nil
}
