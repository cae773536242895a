package transport

import (
	"time"

	goserial "github.com/daedaluz/goserial"
)

// OpenLoopback opens a pseudoterminal pair via goserial.OpenPTY and returns
// two serial.Port-compatible halves: host writes reach printer's Read, and
// vice versa. Intended for integration tests and local development against
// a fake firmware process attached to the printer side, grounded on
// Daedaluz-goserial's pty_linux.go OpenPTY helper.
func OpenLoopback() (host *TTY, printer *TTY, err error) {
	master, slave, err := goserial.OpenPTY(nil, nil)
	if err != nil {
		return nil, nil, err
	}
	return &TTY{port: master}, &TTY{port: slave}, nil
}

// WithReadTimeout applies a read timeout to an already-open TTY half, for
// callers of OpenLoopback that want bounded reads in tests.
func WithReadTimeout(t *TTY, d time.Duration) {
	t.port.SetReadTimeout(d)
}
