package serial

import (
	"regexp"
	"sync"
)

// Match is one regex match captured against an inbound serial line, kept as
// a plain value (not *regexp.MatchString) so Instruction.Captured can be
// serialized or inspected without holding a reference to the original line
// buffer.
type Match struct {
	Text   string
	Groups map[string]string
}

func newMatch(re *regexp.Regexp, line string) Match {
	m := Match{Text: line, Groups: map[string]string{}}
	names := re.SubexpNames()
	sub := re.FindStringSubmatch(line)
	if sub == nil {
		return m
	}
	for i, name := range names {
		if i == 0 || name == "" {
			continue
		}
		m.Groups[name] = sub[i]
	}
	return m
}

// Instruction is a single outbound G-code line together with its
// confirmation/capture/match state (spec.md §3 "Instruction"). Zero value is
// not usable; use NewInstruction.
type Instruction struct {
	Gcode string

	// CompletionRegex, when set, is the response pattern that satisfies
	// confirmation instead of (or, with NeedsTwoOKs, in addition to) a
	// plain "ok" line.
	CompletionRegex *regexp.Regexp

	// NeedsTwoOKs marks a command whose response regex must match and
	// THEN be followed by a separate "ok" line before it is confirmed.
	NeedsTwoOKs bool

	// BeginRegex/ItemRegex/EndRegex, when all set, make this a collecting
	// instruction: lines matching BeginRegex open capture, ItemRegex
	// lines are appended to Captured, EndRegex closes capture and is
	// followed by the ordinary "ok".
	BeginRegex *regexp.Regexp
	ItemRegex  *regexp.Regexp
	EndRegex   *regexp.Regexp

	mu        sync.Mutex
	seq       uint32
	hasSeq    bool
	sent      bool
	confirmed bool
	matched   bool
	failed    bool
	reason    error
	capturing bool
	captured  []Match
	lastMatch *Match

	done     chan struct{}
	doneOnce sync.Once
}

// NewInstruction builds a plain instruction confirmed by the next "ok".
func NewInstruction(gcode string) *Instruction {
	return &Instruction{Gcode: gcode, done: make(chan struct{})}
}

// NewMatchable builds an instruction whose confirmation is the given
// regex (spec.md §4.2: "for collecting instructions" / "matchable"
// commands such as M23's open-result response).
func NewMatchable(gcode string, completion *regexp.Regexp) *Instruction {
	i := NewInstruction(gcode)
	i.CompletionRegex = completion
	return i
}

// NewTwoOK builds an instruction that must see completion match, then a
// separate "ok", before it is confirmed.
func NewTwoOK(gcode string, completion *regexp.Regexp) *Instruction {
	i := NewMatchable(gcode, completion)
	i.NeedsTwoOKs = true
	return i
}

// NewCollecting builds a multi-line capturing instruction (spec.md §4.2
// capture semantics).
func NewCollecting(gcode string, begin, item, end *regexp.Regexp) *Instruction {
	i := NewInstruction(gcode)
	i.BeginRegex, i.ItemRegex, i.EndRegex = begin, item, end
	return i
}

// Seq returns the sequence number assigned at dispatch time and whether one
// has been assigned yet.
func (i *Instruction) Seq() (uint32, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.seq, i.hasSeq
}

func (i *Instruction) setSeq(seq uint32) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.seq = seq
	i.hasSeq = true
}

// IsSent reports whether the instruction has been transmitted at least
// once.
func (i *Instruction) IsSent() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.sent
}

func (i *Instruction) markSent() {
	i.mu.Lock()
	i.sent = true
	i.mu.Unlock()
}

// IsConfirmed reports whether the instruction reached a terminal confirmed
// state. Per the invariant in spec.md §3, once true this instruction's
// flags are frozen.
func (i *Instruction) IsConfirmed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.confirmed
}

// Failed reports whether the instruction ended without confirmation
// (timeout or cancellation), and the reason if so.
func (i *Instruction) Failed() (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.failed, i.reason
}

// Match returns the last match recorded against CompletionRegex, or nil.
func (i *Instruction) Match() *Match {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastMatch
}

// Captured returns the accumulated capture lines for a collecting
// instruction, in arrival order.
func (i *Instruction) Captured() []Match {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]Match, len(i.captured))
	copy(out, i.captured)
	return out
}

// Done returns the completion latch: closed once the instruction is
// confirmed or permanently failed. Waiters (Queue.Wait) select on this
// channel.
func (i *Instruction) Done() <-chan struct{} {
	return i.done
}

func (i *Instruction) recordMatch(re *regexp.Regexp, line string) {
	m := newMatch(re, line)
	i.mu.Lock()
	i.matched = true
	i.lastMatch = &m
	i.mu.Unlock()
}

func (i *Instruction) startCapture() {
	i.mu.Lock()
	i.capturing = true
	i.mu.Unlock()
}

func (i *Instruction) appendCapture(re *regexp.Regexp, line string) {
	m := newMatch(re, line)
	i.mu.Lock()
	i.captured = append(i.captured, m)
	i.mu.Unlock()
}

func (i *Instruction) endCapture() {
	i.mu.Lock()
	i.capturing = false
	i.mu.Unlock()
}

func (i *Instruction) isCapturing() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.capturing
}

func (i *Instruction) isMatched() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.matched
}

// finish marks the instruction terminal exactly once: confirmed (reason ==
// nil) or failed (reason != nil), and closes the completion latch.
func (i *Instruction) finish(confirmed bool, reason error) {
	i.doneOnce.Do(func() {
		i.mu.Lock()
		i.confirmed = confirmed
		if !confirmed {
			i.failed = true
			i.reason = reason
		}
		i.mu.Unlock()
		close(i.done)
	})
}
