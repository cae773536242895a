package command

import (
	"sync"

	"github.com/printlink-go/core/state"
)

// IPCBridge maps named string commands onto Engine.Submit, the contract
// spec.md §6 assigns to the out-of-core multi-instance IPC consumer
// ("a name->handler map draining a bounded queue"), grounded on
// multi_instance/ipc_consumer.py's add_handler/_read_commands. The actual
// POSIX message queue transport is genuinely OS-specific external glue and
// stays out of this package; callers feed it received command names via
// Dispatch however they read their queue.
type IPCBridge struct {
	eng *Engine

	mu       sync.RWMutex
	handlers map[string]func() Command
}

// NewIPCBridge builds an empty bridge bound to eng.
func NewIPCBridge(eng *Engine) *IPCBridge {
	return &IPCBridge{eng: eng, handlers: make(map[string]func() Command)}
}

// AddHandler registers build, a Command constructor, under name
// (ipc_consumer.py's add_handler).
func (b *IPCBridge) AddHandler(name string, build func() Command) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = build
}

// Dispatch looks up name and submits the command it builds to the Engine,
// returning its result channel. ErrUnknownIPCCommand mirrors
// _read_commands' "Unknown command for multi instance" log-and-ignore path,
// made an explicit error instead of a swallowed log line.
func (b *IPCBridge) Dispatch(name string) (<-chan Result, error) {
	b.mu.RLock()
	build, ok := b.handlers[name]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownIPCCommand
	}
	return b.eng.Submit(build(), state.SourceConnect)
}
