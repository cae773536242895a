package serial

import (
	"bufio"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/printlink-go/core/bus"
	"github.com/printlink-go/core/metrics"
)

const (
	reservedSeq uint32 = 0
	maxSeq      uint32 = 1<<31 - 1 // MAX_INT
)

var (
	okPattern     = regexp.MustCompile(`^ok\b`)
	resendPattern = regexp.MustCompile(`(?i)^resend:?\s*(\d+)`)
)

// StallEvent is published when an instruction times out waiting for
// confirmation (spec.md §4.2 "Timeout": "the queue reports a stall to
// supervisors").
type StallEvent struct {
	Instruction *Instruction
	Seq         uint32
}

// queueItem wraps a pending instruction; front-of-queue placement (resend
// rewind, or a caller-requested priority enqueue) is expressed by its
// position in pending, not by a field.
type queueItem struct {
	instr *Instruction
}

// Queue is the Serial Queue (spec.md §4.2): a single-threaded writer that
// dispatches Instructions in order, tracks confirmation, replays resend
// requests and estimates planner-feed latency. Construct with NewQueue.
type Queue struct {
	port    Port
	cfg     Config
	match   *matcher
	metrics metrics.Provider
	log     *slog.Logger

	confirmLatency metrics.Histogram
	inflight       metrics.UpDownCounter

	running *bus.Running
	life    *bus.Lifecycle

	pending   []queueItem
	pendingMu sync.Mutex
	wake      chan struct{}

	paused   bool
	pausedMu sync.Mutex

	history   []*Instruction // ordered by sequence number, oldest first
	historyMu sync.Mutex

	nextSeq uint32

	okCh     chan struct{}
	resendCh chan uint32
	matchCh  chan struct{}

	pct *percentileEstimator

	// Stalled fires once per instruction that times out waiting for
	// confirmation.
	Stalled *bus.Signal[StallEvent]

	// Confirmed fires once per instruction that reaches its terminal
	// confirmed state, used by state.Manager.InstructionConfirmed as the
	// fusion entry point for "printer idle again" (spec.md §4.4
	// transition table).
	Confirmed *bus.Signal[*Instruction]

	stopReader chan struct{}
	readerDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewQueue builds a Queue reading/writing through port. The returned Queue
// owns a reader goroutine and a dispatch-loop goroutine, both stopped by
// Close.
func NewQueue(port Port, opts ...Option) (*Queue, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	q := &Queue{
		port:       port,
		cfg:        cfg,
		match:      newMatcher(),
		metrics:    metrics.NewNoopProvider(),
		log:        slog.Default(),
		running:    bus.NewRunning(),
		wake:       make(chan struct{}, 1),
		nextSeq:    1,
		okCh:       make(chan struct{}, 8),
		resendCh:   make(chan uint32, 8),
		matchCh:    make(chan struct{}, 8),
		pct:        newPercentileEstimator(),
		Stalled:    bus.New[StallEvent](),
		Confirmed:  bus.New[*Instruction](),
		stopReader: make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	if cfg.Logger != nil {
		q.log = cfg.Logger
	}
	q.confirmLatency = q.metrics.Histogram("serial_confirm_latency_seconds", metrics.WithDescription("time from dispatch to confirmation"), metrics.WithUnit("s"))
	q.inflight = q.metrics.UpDownCounter("serial_inflight_instructions", metrics.WithDescription("instructions dispatched but not yet confirmed"))

	q.match.addHandler(okPattern, func(string) {
		nonBlockingSend(q.okCh, struct{}{})
	})
	q.match.addHandler(resendPattern, func(line string) {
		seq, ok := parseResendSeq(line)
		if ok {
			nonBlockingSend(q.resendCh, seq)
		}
	})

	q.life = bus.NewLifecycle(
		func() { q.running.Stop() },
		func() { close(q.stopReader) },
		// Closing the port unblocks a reader goroutine parked in
		// bufio.Scanner.Scan() on a real tty or pty with no pending data.
		func() { q.closeErr = q.port.Close() },
		func() { <-q.readerDone },
	)

	go q.readLoop()

	return q, nil
}

// LineToken identifies a line handler registered through AddLineHandler.
type LineToken uint64

// AddLineHandler exposes the Line Matcher to other components (state
// tracking, item watching, the SD card tree) so they can react to inbound
// lines without holding a reference to the queue's dispatch internals.
func (q *Queue) AddLineHandler(pattern *regexp.Regexp, handler func(line string, groups map[string]string)) LineToken {
	tok := q.match.addHandler(pattern, func(line string) {
		handler(line, newMatch(pattern, line).Groups)
	})
	return LineToken(tok)
}

// RemoveLineHandler detaches a handler registered through AddLineHandler.
// Per spec.md §4.1 ("remove_handler(pattern, handler): ... fails if
// absent"), it returns ErrHandlerNotRegistered if tok is unknown (already
// removed, or never registered).
func (q *Queue) RemoveLineHandler(tok LineToken) error {
	if !q.match.removeHandler(matchToken(tok)) {
		return ErrHandlerNotRegistered
	}
	return nil
}

// SetMetricsProvider installs a metrics.Provider used to record
// confirmation latency and in-flight depth. Must be called before any
// instruction is enqueued.
func (q *Queue) SetMetricsProvider(p metrics.Provider) {
	q.metrics = p
	q.confirmLatency = p.Histogram("serial_confirm_latency_seconds", metrics.WithDescription("time from dispatch to confirmation"), metrics.WithUnit("s"))
	q.inflight = p.UpDownCounter("serial_inflight_instructions", metrics.WithDescription("instructions dispatched but not yet confirmed"))
}

func nonBlockingSend[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

// readLoop scans inbound lines from the port and dispatches each to the
// matcher. Runs until stopReader is closed or the port returns an error.
func (q *Queue) readLoop() {
	defer close(q.readerDone)
	scanner := bufio.NewScanner(q.port)
	for scanner.Scan() {
		select {
		case <-q.stopReader:
			return
		default:
		}
		q.match.dispatch(scanner.Text())
	}
}

// Enqueue appends instr to the pending queue (or the front, if toFront).
// Returns immediately; use Wait to block for confirmation.
func (q *Queue) Enqueue(instr *Instruction, toFront bool) error {
	if !q.running.Get() {
		return ErrQueueStopped
	}
	if _, sent := instr.Seq(); sent {
		return ErrAlreadySent
	}
	q.pendingMu.Lock()
	if toFront {
		q.pending = append([]queueItem{{instr: instr}}, q.pending...)
	} else {
		q.pending = append(q.pending, queueItem{instr: instr})
	}
	q.pendingMu.Unlock()
	nonBlockingSend(q.wake, struct{}{})
	return nil
}

// Wait blocks until instr is confirmed or permanently failed, or the queue
// stops.
func (q *Queue) Wait(instr *Instruction) error {
	select {
	case <-instr.Done():
		if failed, reason := instr.Failed(); failed {
			return reason
		}
		return nil
	case <-q.stopReader:
		return ErrQueueStopped
	}
}

// Pause suspends dispatch of new instructions. An instruction already
// in-flight still runs to confirmation or timeout.
func (q *Queue) Pause() {
	q.pausedMu.Lock()
	q.paused = true
	q.pausedMu.Unlock()
}

// Resume lifts a previous Pause.
func (q *Queue) Resume() {
	q.pausedMu.Lock()
	q.paused = false
	q.pausedMu.Unlock()
	nonBlockingSend(q.wake, struct{}{})
}

func (q *Queue) isPaused() bool {
	q.pausedMu.Lock()
	defer q.pausedMu.Unlock()
	return q.paused
}

// IsFedFast reports whether the given confirmation latency, in seconds, is
// within the planner-feed estimator's healthy range (spec.md §4.2
// "Planner-feed estimator"). No package in this module calls it; it is
// exported for callers outside the core.
func (q *Queue) IsFedFast(latencySeconds float64) bool {
	return q.pct.isFedFast(latencySeconds)
}

// Close stops the dispatch loop (via Run's running flag), the reader and
// the underlying port, exactly once.
func (q *Queue) Close() error {
	q.life.Stop()
	return q.closeErr
}

// Run executes the dispatch loop. It blocks until Close is called or the
// port becomes unusable; callers typically invoke it in its own goroutine
// right after NewQueue.
func (q *Queue) Run() {
	for q.running.Get() {
		if q.isPaused() {
			q.waitWake()
			continue
		}
		instr := q.popPending()
		if instr == nil {
			q.waitWake()
			continue
		}
		q.dispatchOne(instr)
	}
}

func (q *Queue) waitWake() {
	select {
	case <-q.wake:
	case <-time.After(200 * time.Millisecond):
	case <-q.stopReader:
	}
}

func (q *Queue) popPending() *Instruction {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	item := q.pending[0]
	q.pending = q.pending[1:]
	return item.instr
}

func (q *Queue) pushFrontMany(items []*Instruction) {
	q.pendingMu.Lock()
	wrapped := make([]queueItem, len(items))
	for i, it := range items {
		wrapped[i] = queueItem{instr: it}
	}
	q.pending = append(wrapped, q.pending...)
	q.pendingMu.Unlock()
}

// nextSequence assigns the next sequence number, wrapping at maxSeq back to
// 1 (0 is reserved), per spec.md §4.2 step 2.
func (q *Queue) nextSequence() uint32 {
	seq := q.nextSeq
	if seq == reservedSeq {
		seq = 1
	}
	if q.nextSeq >= maxSeq {
		q.nextSeq = 1
	} else {
		q.nextSeq = seq + 1
	}
	return seq
}

func (q *Queue) appendHistory(instr *Instruction) {
	q.historyMu.Lock()
	defer q.historyMu.Unlock()
	for _, h := range q.history {
		if h == instr {
			// Resend redispatch of the same instruction under its original
			// sequence number; avoid a duplicate history entry.
			return
		}
	}
	q.history = append(q.history, instr)
	if len(q.history) > q.cfg.HistoryLength {
		q.history = q.history[len(q.history)-q.cfg.HistoryLength:]
	}
}

// rewindFrom returns every history entry with sequence >= seq, in original
// order, and reports whether seq was found in the retained window.
func (q *Queue) rewindFrom(seq uint32) ([]*Instruction, bool) {
	q.historyMu.Lock()
	defer q.historyMu.Unlock()
	for i, instr := range q.history {
		if s, ok := instr.Seq(); ok && s == seq {
			out := make([]*Instruction, len(q.history)-i)
			copy(out, q.history[i:])
			return out, true
		}
	}
	return nil, false
}

// dispatchOne sends instr, then drives the confirmation wait loop,
// handling resend and timeout. It resolves before Run proceeds to the next
// pending instruction, preserving strict FIFO dispatch.
func (q *Queue) dispatchOne(instr *Instruction) {
	seq, already := instr.Seq()
	if !already {
		seq = q.nextSequence()
		instr.setSeq(seq)
	}

	frame := buildFrame(seq, instr.Gcode)
	if _, err := q.port.Write([]byte(frame)); err != nil {
		instr.finish(false, fmt.Errorf("serial: write failed: %w", err))
		return
	}
	instr.markSent()
	q.appendHistory(instr)
	q.inflight.Add(1)
	defer q.inflight.Add(-1)

	var tokens []matchToken
	if instr.CompletionRegex != nil {
		tokens = append(tokens, q.match.addHandler(instr.CompletionRegex, func(line string) {
			instr.recordMatch(instr.CompletionRegex, line)
			nonBlockingSend(q.matchCh, struct{}{})
		}))
	}
	if instr.BeginRegex != nil && instr.ItemRegex != nil && instr.EndRegex != nil {
		tokens = append(tokens,
			q.match.addHandler(instr.BeginRegex, func(string) { instr.startCapture() }),
			q.match.addHandler(instr.ItemRegex, func(line string) {
				if instr.isCapturing() {
					instr.appendCapture(instr.ItemRegex, line)
				}
			}),
			q.match.addHandler(instr.EndRegex, func(string) { instr.endCapture() }),
		)
	}
	defer func() {
		for _, t := range tokens {
			q.match.removeHandler(t)
		}
	}()

	start := time.Now()
	q.waitForConfirmation(instr)
	if done, _ := instr.Failed(); !done {
		if instr.IsConfirmed() {
			elapsed := time.Since(start).Seconds()
			q.pct.record(elapsed)
			q.confirmLatency.Record(elapsed)
			q.Confirmed.Send(instr)
		}
	}
}

// waitForConfirmation blocks until instr satisfies its completion
// requirement, a resend rewinds it, it times out, or the queue stops.
func (q *Queue) waitForConfirmation(instr *Instruction) {
	needMatch := instr.CompletionRegex != nil
	needOKAfter := instr.NeedsTwoOKs || !needMatch
	matchSeen := false

	timeout := time.NewTimer(q.cfg.ConfirmTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-q.matchCh:
			matchSeen = true
			if !needOKAfter {
				instr.finish(true, nil)
				return
			}
		case <-q.okCh:
			if !needMatch || matchSeen {
				instr.finish(true, nil)
				return
			}
			// an "ok" arriving before the required match is ignored;
			// this instruction is still waiting on its completion regex.
		case seq := <-q.resendCh:
			if q.handleResend(instr, seq) {
				return
			}
		case <-timeout.C:
			instr.finish(false, ErrConfirmTimeout)
			seq, _ := instr.Seq()
			q.log.Warn("instruction confirmation timed out", "gcode", instr.Gcode, "seq", seq)
			q.Stalled.Send(StallEvent{Instruction: instr, Seq: seq})
			return
		case <-q.stopReader:
			instr.finish(false, ErrQueueStopped)
			return
		}
	}
}

// handleResend rewinds history for a "Resend: k" request. It returns true
// if instr itself was part of the rewind (and is therefore no longer
// awaiting confirmation on this call stack — it will be redispatched from
// Run's main loop).
func (q *Queue) handleResend(instr *Instruction, seq uint32) bool {
	replay, ok := q.rewindFrom(seq)
	if !ok {
		instr.finish(false, ErrResendWindowExhausted)
		q.running.Stop()
		return true
	}

	instrSeq, _ := instr.Seq()
	rewindsCurrent := instrSeq >= seq

	q.pushFrontMany(replay)
	nonBlockingSend(q.wake, struct{}{})

	if rewindsCurrent {
		return true
	}
	return false
}

func parseResendSeq(line string) (uint32, bool) {
	sub := resendPattern.FindStringSubmatch(line)
	if sub == nil {
		return 0, false
	}
	n, err := strconv.ParseUint(sub[1], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// buildFrame serializes an instruction as "Nseq gcode*cksum\n" (spec.md
// §6: "Outbound format Nk <gcode>*c\n where c is XOR checksum of bytes up
// to *").
func buildFrame(seq uint32, gcode string) string {
	body := fmt.Sprintf("N%d %s", seq, gcode)
	var cksum byte
	for i := 0; i < len(body); i++ {
		cksum ^= body[i]
	}
	return fmt.Sprintf("%s*%d\n", body, cksum)
}
