package command

import (
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/printlink-go/core/items"
	"github.com/printlink-go/core/reset"
	"github.com/printlink-go/core/serial"
	"github.com/printlink-go/core/state"
)

// loopbackPort is an in-memory test double satisfying serial.Port, grounded
// on serial/queue_test.go's fake of the same name (this package can't
// import that one directly, it's unexported in package serial).
type loopbackPort struct {
	mu      sync.Mutex
	written chan []byte
	toHost  *io.PipeWriter
	reader  *io.PipeReader
	closed  bool
}

func newLoopbackPort() *loopbackPort {
	r, w := io.Pipe()
	return &loopbackPort{written: make(chan []byte, 64), toHost: w, reader: r}
}

func (p *loopbackPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	p.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	p.written <- cp
	return len(b), nil
}

func (p *loopbackPort) Read(b []byte) (int, error) { return p.reader.Read(b) }

func (p *loopbackPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.reader.Close()
}

func (p *loopbackPort) say(line string) {
	_, _ = p.toHost.Write([]byte(line + "\n"))
}

// respondOKAlways acks every written frame with a plain "ok".
func (p *loopbackPort) respondOKAlways() {
	go func() {
		for range p.written {
			p.say("ok")
		}
	}()
}

type fakeFS struct {
	files map[string]string // connect path -> os path
}

func (f *fakeFS) Exists(path string) bool { _, ok := f.files[path]; return ok }
func (f *fakeFS) OSPath(path string) (string, error) {
	p, ok := f.files[path]
	if !ok {
		return "", ErrFileNotFound
	}
	return p, nil
}

type fakeFP struct {
	mu       sync.Mutex
	printing bool
	printed  string
	paused   bool
	stopped  bool
}

func (f *fakeFP) Print(osPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.printing = true
	f.printed = osPath
	return nil
}
func (f *fakeFP) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
	return nil
}
func (f *fakeFP) Resume() error { return nil }
func (f *fakeFP) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.printing = false
	return nil
}
func (f *fakeFP) Printing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.printing
}

func newTestEngine(t *testing.T, port *loopbackPort, fs Filesystem, fp FilePrinter) *Engine {
	t.Helper()
	q, err := serial.NewQueue(port, serial.WithConfirmTimeout(200*time.Millisecond))
	require.NoError(t, err)
	go q.Run()
	t.Cleanup(func() { _ = q.Close() })

	mgr := state.New()
	upd := items.New()
	upd.Start()
	t.Cleanup(upd.Stop)

	patterns := Patterns{
		OpenResult:  regexp.MustCompile(`File opened: .+ Size: (?P<ok>\d+)`),
		Rejection:   regexp.MustCompile(`(?i)unknown command`),
		PrinterBoot: regexp.MustCompile(`^start$`),
	}

	eng, err := New(q, mgr, upd, NewPrintStats(time.Now()), fs, fp, patterns, WithQuitInterval(10*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return eng
}

func TestExecuteGcodeConfirmsOnPlainOK(t *testing.T) {
	port := newLoopbackPort()
	port.respondOKAlways()
	eng := newTestEngine(t, port, nil, nil)

	res := eng.SubmitAndWait(NewExecuteGcode("G28\nG1 X10", false), state.SourceConnect)
	require.NoError(t, res.Err)
}

func TestExecuteGcodeFailsOnRejection(t *testing.T) {
	port := newLoopbackPort()
	go func() {
		for range port.written {
			port.say("Unknown command M9999")
			port.say("ok")
		}
	}()
	eng := newTestEngine(t, port, nil, nil)

	res := eng.SubmitAndWait(NewExecuteGcode("M9999", false), state.SourceConnect)
	require.Error(t, res.Err)
	var fe *FailedError
	require.ErrorAs(t, res.Err, &fe)
	require.Equal(t, "execute_gcode", fe.Name)
}

func TestExecuteGcodeRefusedWhilePrinting(t *testing.T) {
	port := newLoopbackPort()
	port.respondOKAlways()
	eng := newTestEngine(t, port, nil, nil)
	eng.Manager.Printing()

	res := eng.SubmitAndWait(NewExecuteGcode("G28", false), state.SourceConnect)
	require.Error(t, res.Err)
}

func TestStartPrintRefusesWhenAlreadyPrinting(t *testing.T) {
	port := newLoopbackPort()
	port.respondOKAlways()
	eng := newTestEngine(t, port, nil, nil)
	eng.Manager.Printing()

	res := eng.SubmitAndWait(NewStartPrint("/usb/object.gcode"), state.SourceConnect)
	require.Error(t, res.Err)
}

func TestStartPrintFromLocalFile(t *testing.T) {
	port := newLoopbackPort()
	port.respondOKAlways()
	fs := &fakeFS{files: map[string]string{"/usb/object.gcode": "/tmp/object.gcode"}}
	fp := &fakeFP{}
	eng := newTestEngine(t, port, fs, fp)

	res := eng.SubmitAndWait(NewStartPrint("/usb/object.gcode"), state.SourceConnect)
	require.NoError(t, res.Err)
	require.True(t, fp.printing)
	require.Equal(t, "/tmp/object.gcode", fp.printed)
	require.Equal(t, state.Printing, eng.Manager.GetState())
}

func TestStartPrintMissingLocalFileFails(t *testing.T) {
	port := newLoopbackPort()
	port.respondOKAlways()
	fs := &fakeFS{files: map[string]string{}}
	eng := newTestEngine(t, port, fs, &fakeFP{})

	res := eng.SubmitAndWait(NewStartPrint("/usb/missing.gcode"), state.SourceConnect)
	require.Error(t, res.Err)
}

func TestPausePrintRequiresPrintingState(t *testing.T) {
	port := newLoopbackPort()
	port.respondOKAlways()
	eng := newTestEngine(t, port, nil, nil)

	res := eng.SubmitAndWait(NewPausePrint(), state.SourceConnect)
	require.Error(t, res.Err)
}

func TestPausePrintSendsM601AndWaitsForPaused(t *testing.T) {
	port := newLoopbackPort()
	port.respondOKAlways()
	eng := newTestEngine(t, port, nil, nil)
	eng.Manager.Printing()

	done := make(chan Result, 1)
	go func() {
		done <- eng.SubmitAndWait(NewPausePrint(), state.SourceConnect)
	}()

	require.Eventually(t, func() bool {
		eng.Manager.Paused()
		return true
	}, time.Second, 5*time.Millisecond)

	select {
	case res := <-done:
		require.NoError(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("PausePrint did not complete")
	}
}

func TestJobInfoFailsWithNoJob(t *testing.T) {
	port := newLoopbackPort()
	port.respondOKAlways()
	eng := newTestEngine(t, port, nil, nil)

	res := eng.SubmitAndWait(NewJobInfo(), state.SourceConnect)
	require.Error(t, res.Err)
}

func TestJobInfoReportsInProgressJob(t *testing.T) {
	port := newLoopbackPort()
	port.respondOKAlways()
	fs := &fakeFS{files: map[string]string{"/usb/object.gcode": "/tmp/object.gcode"}}
	eng := newTestEngine(t, port, fs, &fakeFP{})

	require.NoError(t, eng.SubmitAndWait(NewStartPrint("/usb/object.gcode"), state.SourceConnect).Err)

	res := eng.SubmitAndWait(NewJobInfo(), state.SourceConnect)
	require.NoError(t, res.Err)
	require.Equal(t, 1, res.Values["job_id"])
}

func TestLoadFilamentSendsPreheatThenM701(t *testing.T) {
	port := newLoopbackPort()
	var frames []string
	var mu sync.Mutex
	go func() {
		for b := range port.written {
			mu.Lock()
			frames = append(frames, string(b))
			mu.Unlock()
			port.say("ok")
		}
	}()
	eng := newTestEngine(t, port, nil, nil)

	res := eng.SubmitAndWait(NewLoadFilament(FilamentParams{BedTemperature: 60, NozzleTemperature: 215}), state.SourceConnect)
	require.NoError(t, res.Err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, frames, 4)
	require.Contains(t, frames[0], "M140 S60")
	require.Contains(t, frames[1], "M109 S215")
	require.Contains(t, frames[2], "M104 S193.5")
	require.Contains(t, frames[3], "M701")
}

func TestLoadFilamentRefusedWhilePrinting(t *testing.T) {
	port := newLoopbackPort()
	port.respondOKAlways()
	eng := newTestEngine(t, port, nil, nil)
	eng.Manager.Printing()

	res := eng.SubmitAndWait(NewLoadFilament(FilamentParams{BedTemperature: 60, NozzleTemperature: 215}), state.SourceConnect)
	require.Error(t, res.Err)
}

func TestIPCBridgeDispatchesRegisteredCommand(t *testing.T) {
	port := newLoopbackPort()
	port.respondOKAlways()
	eng := newTestEngine(t, port, nil, nil)

	bridge := NewIPCBridge(eng)
	bridge.AddHandler("execute_gcode", func() Command { return NewExecuteGcode("G28", false) })

	ch, err := bridge.Dispatch("execute_gcode")
	require.NoError(t, err)
	res := <-ch
	require.NoError(t, res.Err)
}

func TestIPCBridgeUnknownCommand(t *testing.T) {
	port := newLoopbackPort()
	port.respondOKAlways()
	eng := newTestEngine(t, port, nil, nil)

	bridge := NewIPCBridge(eng)
	_, err := bridge.Dispatch("does_not_exist")
	require.ErrorIs(t, err, ErrUnknownIPCCommand)
}

func TestEngineSubmitAfterCloseReturnsStoppedError(t *testing.T) {
	port := newLoopbackPort()
	port.respondOKAlways()
	q, err := serial.NewQueue(port, serial.WithConfirmTimeout(200*time.Millisecond))
	require.NoError(t, err)
	go q.Run()

	mgr := state.New()
	upd := items.New()
	upd.Start()

	patterns := Patterns{
		OpenResult:  regexp.MustCompile(`File opened`),
		Rejection:   regexp.MustCompile(`unknown command`),
		PrinterBoot: regexp.MustCompile(`^start$`),
	}
	eng, err := New(q, mgr, upd, NewPrintStats(time.Now()), nil, nil, patterns)
	require.NoError(t, err)

	eng.Close()
	upd.Stop()
	_ = q.Close()

	_, err = eng.Submit(NewExecuteGcode("G28", false), state.SourceConnect)
	require.ErrorIs(t, err, ErrEngineStopped)
}

type fakePin struct {
	mu  sync.Mutex
	log []string
}

func (p *fakePin) SetOutput() error { p.record("output"); return nil }
func (p *fakePin) SetLow() error    { p.record("low"); return nil }
func (p *fakePin) SetHigh() error   { p.record("high"); return nil }
func (p *fakePin) record(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = append(p.log, s)
}

func TestResetPrinterSucceedsOnBootBanner(t *testing.T) {
	port := newLoopbackPort()
	port.respondOKAlways()
	eng := newTestEngine(t, port, nil, nil)

	pin := &fakePin{}
	pulser, err := reset.NewGPIOPulser(17, pin)
	require.NoError(t, err)
	eng.AttachReset(pulser)

	go func() {
		time.Sleep(20 * time.Millisecond)
		port.say("start")
	}()

	res := eng.SubmitAndWait(NewResetPrinter(), state.SourceConnect)
	require.NoError(t, res.Err)
	require.Contains(t, pin.log, "high")
}

func TestResetPrinterRefusesForbiddenPin(t *testing.T) {
	_, err := reset.NewGPIOPulser(23, &fakePin{})
	require.ErrorIs(t, err, reset.ErrForbiddenPin)
}

func TestResetPrinterFailsWithoutResetLine(t *testing.T) {
	port := newLoopbackPort()
	port.respondOKAlways()
	eng := newTestEngine(t, port, nil, nil)

	res := eng.SubmitAndWait(NewResetPrinter(), state.SourceConnect)
	require.Error(t, res.Err)
}
