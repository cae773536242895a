package command

import (
	"time"

	"github.com/printlink-go/core/state"
)

// tryUntilState is the shared helper behind PausePrint/ResumePrint/StopPrint
// (spec.md §4.3 "An immediate short-circuit... registers an expected state
// change, dispatches the canonical G-code... then waits"). It is modeled
// as a function, not a base "class", per SPEC_FULL.md's design note
// ("TryUntilState is the shared helper, not a base class").
func (b *base) tryUntilState(eng *Engine, gcode string, desired ...state.State) error {
	desiredSet := make(map[state.State]bool, len(desired))
	toStates := make(map[state.State]state.Source, len(desired))
	for _, s := range desired {
		desiredSet[s] = true
		toStates[s] = b.source
	}

	if desiredSet[eng.Manager.GetState()] {
		return nil
	}

	eng.Manager.ExpectChange(state.Change{
		CommandID: b.commandID,
		ToStates:  toStates,
	})

	reached := make(chan struct{}, 1)
	tok := eng.Manager.StateChanged.Connect(func(ev state.StateChangedEvent) {
		if desiredSet[ev.To] {
			select {
			case reached <- struct{}{}:
			default:
			}
		}
	})
	defer eng.Manager.StateChanged.Disconnect(tok)

	if _, err := b.doInstruction(eng.Queue, gcode); err != nil && err != ErrInterrupted {
		return err
	}

	if desiredSet[eng.Manager.GetState()] {
		return nil
	}

	deadline := time.Now().Add(eng.cfg.StateChangeTimeout)
	for b.running.Get() && time.Now().Before(deadline) {
		select {
		case <-reached:
			return nil
		case <-time.After(b.quitInterval):
		}
	}

	if desiredSet[eng.Manager.GetState()] {
		return nil
	}
	return ErrRefusedByState
}
