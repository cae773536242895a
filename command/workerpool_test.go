package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerPoolCreatesUpToCapacity(t *testing.T) {
	p := newCmdWorkerPool(2)

	w1 := p.get()
	w2 := p.get()
	require.NotNil(t, w1)
	require.NotNil(t, w2)
	require.NotSame(t, w1, w2)
}

func TestWorkerPoolBlocksGetUntilPut(t *testing.T) {
	p := newCmdWorkerPool(1)
	w := p.get()

	got := make(chan *cmdWorker, 1)
	go func() { got <- p.get() }()

	select {
	case <-got:
		t.Fatal("get returned before any worker was put back")
	case <-time.After(20 * time.Millisecond):
	}

	p.put(w)
	select {
	case w2 := <-got:
		require.NotNil(t, w2)
	case <-time.After(time.Second):
		t.Fatal("get never unblocked after put")
	}
}

func TestWorkerPoolReusesPutWorkers(t *testing.T) {
	p := newCmdWorkerPool(1)
	w := p.get()
	p.put(w)
	require.Same(t, w, p.get())
}

func TestWorkerPoolConcurrentGetPutIsSafe(t *testing.T) {
	p := newCmdWorkerPool(4)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				w := p.get()
				p.put(w)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("concurrent get/put deadlocked")
		}
	}
}
