package serial

import (
	"regexp"
	"sync"
)

// lineHandler is invoked once per inbound line that matches the pattern it
// was registered under. Handlers run on the queue's single reader goroutine
// and must not block.
type lineHandler func(line string)

// matcher is the Line Matcher (spec.md §4.1): a registry of regexes, each
// holding an ordered list of handlers, checked against every inbound serial
// line. Order of registration is preserved per pattern, mirroring
// bus.Signal's ordering guarantee, and deliberately reuses that same
// registration/connect/disconnect shape instead of introducing a second
// pub-sub primitive.
type matcher struct {
	mu      sync.Mutex
	entries []matcherEntry
	nextID  uint64
}

type matcherEntry struct {
	id      uint64
	pattern *regexp.Regexp
	handler lineHandler
}

func newMatcher() *matcher {
	return &matcher{}
}

// matchToken identifies a registered handler so it can be removed once an
// instruction completes.
type matchToken uint64

// addHandler registers handler against pattern, appended after any
// existing entries for the same or other patterns so that delivery order
// matches registration order.
func (m *matcher) addHandler(pattern *regexp.Regexp, handler lineHandler) matchToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.entries = append(m.entries, matcherEntry{id: id, pattern: pattern, handler: handler})
	return matchToken(id)
}

// removeHandler detaches a previously registered handler. Per spec.md
// §4.1 ("remove_handler(pattern, handler): ... fails if absent"), it
// reports whether tok was still registered rather than silently
// no-opping.
func (m *matcher) removeHandler(tok matchToken) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.id == uint64(tok) {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return true
		}
	}
	return false
}

// dispatch runs every handler whose pattern matches line, in registration
// order. It is called synchronously from the reader goroutine; per spec.md
// §9 design notes, line handlers must not perform blocking I/O.
func (m *matcher) dispatch(line string) {
	m.mu.Lock()
	entries := make([]matcherEntry, len(m.entries))
	copy(entries, m.entries)
	m.mu.Unlock()

	for _, e := range entries {
		if e.pattern.MatchString(line) {
			e.handler(line)
		}
	}
}
