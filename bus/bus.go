// Package bus implements the Signal Bus: a small in-process publish/subscribe
// mechanism used to wire the serial queue, state manager and item updater
// together without giving any of them a direct reference to the others.
//
// It is grounded on the teacher's concurrency scaffolding in
// github.com/ygrebnov/workers: lifecycle.go's once-guarded, ordered
// shutdown sequence and error_forwarder.go's non-blocking, detached-sender
// delivery pattern are both reused here instead of reaching for a
// goroutine-per-subscriber broadcaster.
package bus

import "sync"

// Handler receives an event payload. Handlers must be non-blocking; the bus
// calls them synchronously in registration order.
type Handler[T any] func(T)

// Signal is a typed publish/subscribe point. Zero value is not usable; use
// New.
type Signal[T any] struct {
	mu       sync.Mutex
	handlers []subscription[T]
	nextID   uint64
}

type subscription[T any] struct {
	id      uint64
	handler Handler[T]
}

// New creates a Signal for payload type T.
func New[T any]() *Signal[T] {
	return &Signal[T]{}
}

// Token identifies a previously-registered handler so it can be detached.
type Token uint64

// Connect registers a handler, appended after any existing ones. Handlers
// fire in registration order; ordering across distinct Signals is
// unspecified, matching the Line Matcher's per-pattern ordering guarantee.
func (s *Signal[T]) Connect(h Handler[T]) Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.handlers = append(s.handlers, subscription[T]{id: id, handler: h})
	return Token(id)
}

// Disconnect removes the handler registered under tok. It is a no-op if the
// token is unknown (already disconnected, or from a different Signal).
func (s *Signal[T]) Disconnect(tok Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.handlers {
		if sub.id == uint64(tok) {
			s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
			return
		}
	}
}

// Send fires every connected handler synchronously, in registration order.
// A panicking handler is recovered and does not prevent later handlers from
// running, mirroring the worker-loop's "only the outer frame catches
// unexpected failures" design note; callers that want to know about a panic
// should not rely on recovery here and should keep handlers panic-free.
func (s *Signal[T]) Send(payload T) {
	s.mu.Lock()
	handlers := make([]subscription[T], len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, sub := range handlers {
		s.callOne(sub.handler, payload)
	}
}

func (s *Signal[T]) callOne(h Handler[T], payload T) {
	defer func() { _ = recover() }()
	h(payload)
}

// Len reports the number of currently connected handlers. Intended for
// tests and diagnostics.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}
