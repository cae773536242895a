package serial

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// loopbackPort is an in-memory test double satisfying Port, grounded on the
// teacher's style of hand-rolled fakes in tests/ rather than a mocking
// framework.
type loopbackPort struct {
	mu     sync.Mutex
	toPort chan []byte
	toHost *io.PipeWriter
	reader *io.PipeReader
	closed bool
}

func newLoopbackPort() *loopbackPort {
	r, w := io.Pipe()
	return &loopbackPort{toPort: make(chan []byte, 64), toHost: w, reader: r}
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
	p.toPort <- cp
	return len(b), nil
}

func (p *loopbackPort) Read(b []byte) (int, error) {
	return p.reader.Read(b)
}

func (p *loopbackPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.reader.Close()
}

// respondOK drains frames written by the queue and writes back a plain
// "ok\n" for each one.
func (p *loopbackPort) respondOK(t *testing.T) {
	go func() {
		for range p.toPort {
			if _, err := p.toHost.Write([]byte("ok\n")); err != nil {
				return
			}
		}
	}()
}

func TestQueueEnqueueAndConfirm(t *testing.T) {
	port := newLoopbackPort()
	port.respondOK(t)

	q, err := NewQueue(port, WithConfirmTimeout(time.Second))
	require.NoError(t, err)
	go q.Run()
	defer q.Close()

	instr := NewInstruction("G28")
	require.NoError(t, q.Enqueue(instr, false))
	require.NoError(t, q.Wait(instr))
	require.True(t, instr.IsConfirmed())

	seq, ok := instr.Seq()
	require.True(t, ok)
	require.Equal(t, uint32(1), seq)
}

func TestQueueSequenceSkipsReservedZero(t *testing.T) {
	q := &Queue{nextSeq: maxSeq}
	first := q.nextSequence()
	require.Equal(t, maxSeq, first)
	second := q.nextSequence()
	require.Equal(t, uint32(1), second)
}

func TestBuildFrameChecksum(t *testing.T) {
	frame := buildFrame(12, "G28")
	require.Contains(t, frame, "N12 G28*")
	require.True(t, len(frame) > 0 && frame[len(frame)-1] == '\n')
}

func TestQueueTimeout(t *testing.T) {
	port := newLoopbackPort()
	// no responder: every instruction times out

	q, err := NewQueue(port, WithConfirmTimeout(30*time.Millisecond))
	require.NoError(t, err)
	go q.Run()
	defer q.Close()

	var stalled StallEvent
	done := make(chan struct{})
	q.Stalled.Connect(func(e StallEvent) {
		stalled = e
		close(done)
	})

	instr := NewInstruction("G28")
	require.NoError(t, q.Enqueue(instr, false))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected a stall event")
	}
	require.Equal(t, instr, stalled.Instruction)

	err = q.Wait(instr)
	require.ErrorIs(t, err, ErrConfirmTimeout)
}
