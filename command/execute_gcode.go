package command

import (
	"strings"
	"sync/atomic"

	"github.com/printlink-go/core/state"
)

// ExecuteGcode runs an arbitrary, newline-separated block of gcode
// (spec.md §4.3), grounded on command_handlers.py's ExecuteGcode.
type ExecuteGcode struct {
	base
	Text  string
	Force bool
}

// NewExecuteGcode builds an ExecuteGcode for text, a "\n"-separated block
// of gcode lines. In non-force mode it refuses to run while the printer is
// PRINTING, in ATTENTION or in ERROR.
func NewExecuteGcode(text string, force bool) *ExecuteGcode {
	return &ExecuteGcode{Text: text, Force: force}
}

func (c *ExecuteGcode) Name() string { return "execute_gcode" }

func (c *ExecuteGcode) Run(eng *Engine) (map[string]any, error) {
	st := eng.Manager.GetState()
	if !c.Force {
		switch st {
		case state.Printing, state.Attention, state.Error:
			return c.fail(c.Name(), "Can't run '"+c.Text+"' while in "+st.String()+" state")
		}
	}

	eng.Manager.ExpectChange(state.Change{
		CommandID:     c.commandID,
		HasDefault:    true,
		DefaultSource: c.source,
	})

	// Enqueued one line at a time, each at the front of the queue, per
	// spec.md §4.3, so a manually-run gcode jumps ahead of anything
	// already queued.
	for _, raw := range strings.Split(c.Text, "\n") {
		line := strings.TrimSpace(strings.ReplaceAll(raw, "\r", ""))
		if line == "" {
			continue
		}

		var rejected int32
		tok := eng.Queue.AddLineHandler(eng.Patterns.Rejection, func(string, map[string]string) {
			atomic.StoreInt32(&rejected, 1)
		})

		instr, err := c.doInstructionFront(eng.Queue, line)

		eng.Queue.RemoveLineHandler(tok)

		if err != nil && err != ErrInterrupted {
			return nil, err
		}
		if !instr.IsConfirmed() {
			return c.fail(c.Name(), "Command interrupted")
		}
		if atomic.LoadInt32(&rejected) == 1 {
			return c.failWrap(c.Name(), "Unknown command '"+line+"'", ErrUnknownGcode)
		}
	}

	return nil, nil
}
