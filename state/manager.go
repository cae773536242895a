package state

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/printlink-go/core/bus"
	"github.com/printlink-go/core/serial"
)

// STATE_HISTORY_SIZE: bounded ring of the last reported states kept for
// diagnostics.
const stateHistorySize = 10

// ERROR_REASON_TIMEOUT: how long the manager waits for a specific error
// explanation after an unexplained stop/kill before reporting a generic
// "reason not found".
const errorReasonTimeout = 2 * time.Second

// Manager is the State Manager. Construct with New and feed it serial
// lines via its registered handlers (call Wire with the serial Queue), or
// drive its transition methods directly from other components (Command
// Engine, Item Updater).
type Manager struct {
	mu sync.Mutex

	overrideState  *State
	printingState  *State
	baseState      State
	lastState      State
	currentState   State
	history        []State
	errorCount     int
	awaitingReason bool

	unsureWhetherPrinting bool

	expected *Change

	fanErrorName string

	errorReasonReset chan struct{}

	PreStateChange  *bus.Signal[*int]
	StateChanged    *bus.Signal[StateChangedEvent]
	PostStateChange *bus.Signal[struct{}]
}

// New builds a Manager starting in BUSY, matching the original's
// "at startup avoid READY until sure" behavior.
func New() *Manager {
	return &Manager{
		baseState:             Busy,
		lastState:             Busy,
		currentState:          Busy,
		unsureWhetherPrinting: true,
		PreStateChange:        bus.New[*int](),
		StateChanged:          bus.New[StateChangedEvent](),
		PostStateChange:       bus.New[struct{}](),
	}
}

// Wire registers this manager's line-driven transitions against the
// serial queue's Line Matcher.
func (m *Manager) Wire(src *serial.Queue, patterns LinePatterns) {
	src.AddLineHandler(patterns.Busy, func(string, map[string]string) { m.Busy() })
	src.AddLineHandler(patterns.Attention, func(string, map[string]string) { m.Attention() })
	src.AddLineHandler(patterns.Paused, func(string, map[string]string) { m.Paused() })
	src.AddLineHandler(patterns.Resumed, func(string, map[string]string) { m.Resumed() })
	src.AddLineHandler(patterns.Cancel, func(string, map[string]string) { m.StoppedOrNotPrinting() })
	src.AddLineHandler(patterns.StartPrint, func(string, map[string]string) { m.Printing() })
	src.AddLineHandler(patterns.PrintDone, func(string, map[string]string) { m.Finished() })
	src.AddLineHandler(patterns.Error, func(_ string, groups map[string]string) { m.errorHandler(groups) })
	src.AddLineHandler(patterns.FanError, func(_ string, groups map[string]string) { m.fanError(groups) })
}

// LinePatterns names the regex families state.Manager listens for (spec.md
// §6: "error family with sub-groups", "paused/resumed/cancel/..." markers).
type LinePatterns struct {
	Busy       *regexp.Regexp
	Attention  *regexp.Regexp
	Paused     *regexp.Regexp
	Resumed    *regexp.Regexp
	Cancel     *regexp.Regexp
	StartPrint *regexp.Regexp
	PrintDone  *regexp.Regexp
	Error      *regexp.Regexp
	FanError   *regexp.Regexp
}

// GetState fuses the three layers: override beats printing beats base.
func (m *Manager) GetState() State {
	if m.overrideState != nil {
		return *m.overrideState
	}
	if m.printingState != nil {
		return *m.printingState
	}
	return m.baseState
}

// ExpectChange registers an expected transition so an observed change can
// be attributed to its source. Call before dispatching the action that
// might cause it.
func (m *Manager) ExpectChange(c Change) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := c
	m.expected = &cp
}

func (m *Manager) stopExpectingChange() {
	m.expected = nil
}

func (m *Manager) isExpected() bool {
	if m.expected == nil {
		return false
	}
	_, expectedTo := m.expected.ToStates[m.currentState]
	_, expectedFrom := m.expected.FromStates[m.lastState]
	return expectedTo || expectedFrom || m.expected.HasDefault
}

func (m *Manager) getExpectedSource() Source {
	if m.expected == nil {
		return SourceUnknown
	}
	sourceFrom, hasFrom := m.expected.FromStates[m.lastState]
	sourceTo, hasTo := m.expected.ToStates[m.currentState]

	if hasFrom && hasTo && sourceTo != sourceFrom {
		return sourceFrom
	}
	if hasFrom {
		return sourceFrom
	}
	if hasTo {
		return sourceTo
	}
	if m.expected.HasDefault {
		return m.expected.DefaultSource
	}
	return SourceUnknown
}

// influence runs fn under the state lock, installing change as the
// expected transition if none is already registered (state_influencer),
// then recomputes the externally visible state.
func (m *Manager) influence(change *Change, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hasSetExpected := false
	if m.expected == nil && change != nil {
		hasSetExpected = true
		m.expected = change
	}

	fn()
	m.stateMayHaveChangedLocked()

	if hasSetExpected {
		m.stopExpectingChange()
	}
}

// stateMayHaveChangedLocked must be called with mu held. It compares the
// fused state against the last reported one, updates history and fires
// signals if it changed.
func (m *Manager) stateMayHaveChangedLocked() {
	next := m.GetState()
	if next == m.currentState {
		return
	}
	m.lastState = m.currentState
	m.currentState = next
	m.history = append(m.history, next)
	if len(m.history) > stateHistorySize {
		m.history = m.history[len(m.history)-stateHistorySize:]
	}

	var commandID *int
	source := SourceUnknown
	reason := ""
	checked := false

	if m.isExpected() {
		commandID = m.expected.CommandID
		source = m.getExpectedSource()
		reason = m.expected.Reason
		checked = m.expected.Checked
	}
	m.expected = nil

	m.PreStateChange.Send(commandID)
	m.StateChanged.Send(StateChangedEvent{
		From:      m.lastState,
		To:        m.currentState,
		CommandID: commandID,
		Source:    source,
		Reason:    reason,
		Checked:   checked,
	})
	m.PostStateChange.Send(struct{}{})
}

// History returns the bounded history of reported states, oldest first.
func (m *Manager) History() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]State, len(m.history))
	copy(out, m.history)
	return out
}

// --- state-changing methods, one per original transition method ---

func (m *Manager) StoppedOrNotPrinting() {
	m.mu.Lock()
	printing := m.printingState != nil && *m.printingState == Printing
	m.mu.Unlock()
	if printing {
		m.Stopped()
	} else {
		m.NotPrinting()
	}
}

// Reset matches the original's reset(): clears hardware error flag,
// forces busy, and makes sure printing state reflects reality.
func (m *Manager) Reset() {
	m.Busy()
	m.StoppedOrNotPrinting()
}

func (m *Manager) Printing() {
	m.influence(&Change{ToStates: map[State]Source{Printing: SourceUser}}, func() {
		if m.printingState == nil || *m.printingState == Paused {
			m.unsureWhetherPrinting = false
			m.setPrinting(Printing)
		}
	})
}

func (m *Manager) NotPrinting() {
	m.influence(&Change{FromStates: map[State]Source{Printing: SourceMarlin, Paused: SourceMarlin}}, func() {
		m.unsureWhetherPrinting = false
		if m.printingState != nil && *m.printingState != Finished && *m.printingState != Stopped {
			m.printingState = nil
		}
	})
}

func (m *Manager) Finished() {
	m.influence(&Change{ToStates: map[State]Source{Finished: SourceMarlin}}, func() {
		if m.printingState != nil && *m.printingState == Printing {
			m.setPrinting(Finished)
		}
	})
}

func (m *Manager) Busy() {
	m.influence(&Change{ToStates: map[State]Source{Busy: SourceMarlin}}, func() {
		if m.baseState == Ready {
			m.baseState = Busy
		}
	})
}

func (m *Manager) Paused() {
	m.influence(&Change{ToStates: map[State]Source{Paused: SourceUser}}, func() {
		if m.printingState == nil || *m.printingState == Printing {
			m.unsureWhetherPrinting = false
			m.setPrinting(Paused)
		}
	})
}

func (m *Manager) Resumed() {
	m.influence(&Change{ToStates: map[State]Source{Printing: SourceUser}}, func() {
		if m.printingState != nil && *m.printingState == Paused {
			m.unsureWhetherPrinting = false
			m.setPrinting(Printing)
		}
	})
}

func (m *Manager) Stopped() {
	m.influence(&Change{FromStates: map[State]Source{Printing: SourceUser}}, func() {
		if m.printingState != nil && (*m.printingState == Printing || *m.printingState == Paused) {
			m.unsureWhetherPrinting = false
			m.setPrinting(Stopped)
		}
	})
}

// InstructionConfirmed clears all temporary states, run after every
// confirmed instruction (spec.md's fusion entry point for "printer idle
// again").
func (m *Manager) InstructionConfirmed(m0AfterPrints bool) {
	m.influence(&Change{
		ToStates: map[State]Source{Ready: SourceMarlin},
		FromStates: map[State]Source{
			Attention: SourceUser, Error: SourceMarlin, Busy: SourceHW,
			Finished: SourceMarlin, Stopped: SourceMarlin,
		},
		Checked: false,
	}, func() {
		if m.unsureWhetherPrinting {
			return
		}
		if m.baseState == Busy {
			m.baseState = Ready
		}
		if !m0AfterPrints && m.printingState != nil &&
			(*m.printingState == Stopped || *m.printingState == Finished) {
			m.printingState = nil
		}
		if m.overrideState != nil && *m.overrideState != Error {
			m.overrideState = nil
		}
	})
}

// PrinterChecked clears FINISHED/STOPPED after the user acknowledges them.
func (m *Manager) PrinterChecked() {
	m.influence(&Change{
		ToStates:   map[State]Source{Ready: SourceMarlin},
		FromStates: map[State]Source{Finished: SourceUser, Stopped: SourceUser},
		Checked:    true,
	}, func() {
		if m.printingState != nil && (*m.printingState == Finished || *m.printingState == Stopped) {
			m.printingState = nil
		}
	})
}

func (m *Manager) Attention() {
	m.influence(&Change{ToStates: map[State]Source{Attention: SourceUser}}, func() {
		if m.fanErrorName != "" {
			name := m.fanErrorName
			m.fanErrorName = ""
			m.expected = &Change{
				ToStates: map[State]Source{Attention: SourceFirmware},
				Reason:   fmt.Sprintf("%s fan error", name),
			}
		}
		if m.printingState == nil || (*m.printingState != Finished && *m.printingState != Stopped) {
			s := Attention
			m.overrideState = &s
		}
	})
}

func (m *Manager) Error() {
	m.influence(&Change{ToStates: map[State]Source{Error: SourceWUI}}, func() {
		s := Error
		m.overrideState = &s
	})
}

func (m *Manager) ErrorResolved() {
	m.influence(&Change{FromStates: map[State]Source{Error: SourceUser}}, func() {
		if m.overrideState != nil && *m.overrideState == Error && m.errorCount == 0 {
			m.overrideState = nil
		}
	})
}

func (m *Manager) SerialError() {
	m.influence(&Change{ToStates: map[State]Source{Error: SourceSerial}}, func() {
		s := Error
		m.overrideState = &s
	})
}

func (m *Manager) SerialErrorResolved() {
	m.influence(&Change{ToStates: map[State]Source{Ready: SourceSerial}}, func() {
		if m.overrideState != nil && *m.overrideState == Error {
			m.overrideState = nil
		}
	})
}

// LinkErrorDetected/LinkErrorResolved track a running count of hardware
// error conditions (spec.md's "don't leave error state until all are
// resolved"); call these from the components responsible for detecting
// and clearing specific hardware faults.
func (m *Manager) LinkErrorDetected() {
	m.mu.Lock()
	m.errorCount++
	m.mu.Unlock()
	m.Error()
}

func (m *Manager) LinkErrorResolved() {
	m.mu.Lock()
	m.errorCount--
	count := m.errorCount
	m.mu.Unlock()
	if count == 0 {
		m.ErrorResolved()
	}
}

func (m *Manager) setPrinting(s State) {
	m.printingState = &s
}

func (m *Manager) fanError(groups map[string]string) {
	m.mu.Lock()
	m.fanErrorName = groups["fan_name"]
	m.mu.Unlock()
}

// errorHandler implements the original's error_handler + get_reason: a
// generic stop/kill starts a short wait for a specific explanation: a
// specific error (temp, runaway, bed leveling) goes straight to ERROR with
// a reason.
func (m *Manager) errorHandler(groups map[string]string) {
	m.mu.Lock()
	if m.errorReasonReset != nil {
		close(m.errorReasonReset)
		m.errorReasonReset = nil
	}
	generic := groups["stop"] != "" || groups["kill"] != ""
	overrideIsError := m.overrideState != nil && *m.overrideState == Error
	m.mu.Unlock()

	if generic && !overrideIsError {
		reset := make(chan struct{})
		m.mu.Lock()
		m.awaitingReason = true
		m.errorReasonReset = reset
		m.mu.Unlock()
		go m.errorReasonWaiter(reset)
		return
	}

	reason := reasonFromGroups(groups)
	m.ExpectChange(Change{ToStates: map[State]Source{Error: SourceMarlin}, Reason: reason})
	m.Error()
}

func (m *Manager) errorReasonWaiter(reset chan struct{}) {
	timer := time.NewTimer(errorReasonTimeout)
	defer timer.Stop()
	select {
	case <-reset:
		// a specific explanation arrived and handled its own ExpectChange.
	case <-timer.C:
		m.ExpectChange(Change{
			ToStates: map[State]Source{Error: SourceMarlin},
			Reason:   "404 Reason not found",
		})
		m.Error()
	}
	m.mu.Lock()
	m.awaitingReason = false
	m.mu.Unlock()
}

// reasonFromGroups builds the human-readable explanation for a specific
// error match, mirroring get_reason's branching over mintemp/maxtemp,
// thermal runaway variants and bed leveling failure.
func reasonFromGroups(groups map[string]string) string {
	reason := ""
	switch {
	case groups["temp"] != "":
		if groups["mintemp"] != "" {
			reason += "Mintemp"
		} else if groups["maxtemp"] != "" {
			reason += "Maxtemp"
		}
		reason += " triggered by the "
		if groups["bed"] != "" {
			reason += "heatbed thermistor."
		} else {
			reason += "hotend thermistor."
		}
	case groups["runaway"] != "":
		switch {
		case groups["hotend_runaway"] != "":
			reason = "Hotend"
		case groups["heatbed_runaway"] != "":
			reason = "Heatbed"
		case groups["preheat_hotend"] != "":
			reason = "Hotend preheat"
		case groups["preheat_heatbed"] != "":
			reason = "Heatbed preheat"
		}
		reason += " thermal runaway."
	case groups["bed_levelling"] != "":
		reason = "Bed leveling failed. Sensor didn't trigger. Is there debris on the nozzle?"
	}
	reason += " Manual restart required!"
	return reason
}
