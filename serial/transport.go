package serial

import "io"

// Port is the minimal contract a transport must satisfy to back a Queue.
// serial/transport provides two implementations: a real tty wrapping
// github.com/daedaluz/goserial, and a pty-backed loopback used in tests.
// Keeping the interface here (rather than importing serial/transport) lets
// test doubles live alongside the queue tests without an import cycle.
type Port interface {
	io.Writer
	io.Reader
	io.Closer
}
