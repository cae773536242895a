package command

import (
	"sync"

	"github.com/printlink-go/core/bus"
	"github.com/printlink-go/core/items"
	"github.com/printlink-go/core/reset"
	"github.com/printlink-go/core/sdcard"
	"github.com/printlink-go/core/serial"
	"github.com/printlink-go/core/state"
)

// Engine is the Command Engine (spec.md §4.3): it owns the collaborators
// every command needs and dispatches submitted Commands against them.
// Construct with New.
type Engine struct {
	cfg Config

	Queue    *serial.Queue
	Manager  *state.Manager
	Updater  *items.Updater
	SD       *sdcard.Card
	Reset    *reset.Pulser
	FS       Filesystem
	FP       FilePrinter
	Stats    *PrintStats
	Patterns Patterns

	jobMu sync.Mutex
	job   Job

	running *bus.Running
	life    *bus.Lifecycle
	stopCh  chan struct{}

	intake   chan submission
	inflight sync.WaitGroup
	pool     *cmdWorkerPool
	disp     *dispatcher

	idMu   sync.Mutex
	nextID int

	confirmedTok uint64
}

// New builds an Engine. Call Close to shut it down. Queue, Manager and
// Stats are required; the remaining collaborators may be nil if the
// corresponding commands/features aren't needed (e.g. no SD card support,
// no GPIO reset capability).
func New(queue *serial.Queue, manager *state.Manager, updater *items.Updater, stats *PrintStats, fs Filesystem, fp FilePrinter, patterns Patterns, opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		Queue:    queue,
		Manager:  manager,
		Updater:  updater,
		Stats:    stats,
		FS:       fs,
		FP:       fp,
		Patterns: patterns,
		running:  bus.NewRunning(),
		stopCh:   make(chan struct{}),
		intake:   make(chan submission, 16),
		pool:     newCmdWorkerPool(cfg.MaxConcurrentCommands),
	}

	tok := uint64(queue.Confirmed.Connect(func(instr *serial.Instruction) {
		manager.InstructionConfirmed(cfg.M0AfterPrints)
	}))
	e.confirmedTok = tok

	e.disp = newDispatcher(e.intake, e.stopCh, e, &e.inflight, e.pool)
	go e.disp.run()

	e.life = bus.NewLifecycle(
		func() { e.running.Stop() },
		func() { close(e.stopCh) },
		func() { e.inflight.Wait() },
	)

	return e, nil
}

// AttachSD wires the SD card tracker in after construction (it needs the
// same Queue and Manager the Engine was built with).
func (e *Engine) AttachSD(sd *sdcard.Card) { e.SD = sd }

// AttachReset wires the reset pulser in after construction.
func (e *Engine) AttachReset(p *reset.Pulser) { e.Reset = p }

// Close stops accepting new submissions and waits for in-flight commands
// to observe the running flag and return, exactly once.
func (e *Engine) Close() {
	e.life.Stop()
	e.Queue.Confirmed.Disconnect(bus.Token(e.confirmedTok))
}

// Job returns the currently tracked job descriptor.
func (e *Engine) Job() Job {
	e.jobMu.Lock()
	defer e.jobMu.Unlock()
	return e.job
}

func (e *Engine) setJob(j Job) {
	e.jobMu.Lock()
	e.job = j
	e.jobMu.Unlock()
}

// Submit enqueues cmd for execution, assigning it a fresh command ID, and
// returns a channel that receives exactly one Result. source attributes
// any state changes the command causes (spec.md §6 "Expected-change
// callers").
func (e *Engine) Submit(cmd Command, source state.Source) (<-chan Result, error) {
	if !e.running.Get() {
		return nil, ErrEngineStopped
	}

	e.idMu.Lock()
	e.nextID++
	id := e.nextID
	e.idMu.Unlock()

	cmd.attach(&id, source, e.running, e.cfg.QuitInterval)

	resultCh := make(chan Result, 1)
	sub := submission{id: &id, cmd: cmd, resultCh: resultCh}

	select {
	case e.intake <- sub:
		return resultCh, nil
	case <-e.stopCh:
		return nil, ErrEngineStopped
	}
}

// SubmitAndWait is Submit followed by a blocking receive, the common case
// for callers that don't need to track multiple in-flight commands.
func (e *Engine) SubmitAndWait(cmd Command, source state.Source) Result {
	ch, err := e.Submit(cmd, source)
	if err != nil {
		return Result{Err: err}
	}
	return <-ch
}
