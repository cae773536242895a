// Package transport provides serial.Port implementations: a real tty device
// backed by github.com/daedaluz/goserial, and a pty-based loopback used by
// tests and local development without hardware attached.
package transport

import (
	"fmt"
	"time"

	goserial "github.com/daedaluz/goserial"
)

// TTY wraps a github.com/daedaluz/goserial *Port, configured 8-N-1 at a
// caller-supplied baud rate, satisfying serial.Port.
type TTY struct {
	port *goserial.Port
}

// Baud is one of the standard rates accepted by MakeRaw/SetAttr2; left as a
// plain uint32 so callers can pass the value their printer's datasheet
// specifies without a bespoke enum.
type Baud uint32

// Common baud rates used by 3D-printer firmwares.
const (
	Baud115200 Baud = 115200
	Baud250000 Baud = 250000
)

// OpenTTY opens name (e.g. "/dev/ttyACM0") and configures it 8-N-1 at baud,
// mirroring the framing spec.md §6 requires ("8-N-1 at standard baud").
func OpenTTY(name string, baud Baud, readTimeout time.Duration) (*TTY, error) {
	opts := goserial.NewOptions().SetReadTimeout(readTimeout)
	port, err := goserial.Open(name, opts)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", name, err)
	}
	if err := port.MakeRaw(); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: configure raw mode on %s: %w", name, err)
	}
	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: read attrs on %s: %w", name, err)
	}
	attrs.ISpeed = uint32(baud)
	attrs.OSpeed = uint32(baud)
	attrs.Cflag &^= goserial.CSIZE
	attrs.Cflag |= goserial.CS8
	attrs.Cflag &^= goserial.PARENB
	attrs.Cflag &^= goserial.CSTOPB
	if err := port.SetAttr2(goserial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: apply attrs on %s: %w", name, err)
	}
	return &TTY{port: port}, nil
}

func (t *TTY) Write(p []byte) (int, error) { return t.port.Write(p) }
func (t *TTY) Read(p []byte) (int, error)  { return t.port.Read(p) }
func (t *TTY) Close() error                { return t.port.Close() }

// SetDTR asserts or deasserts the DTR modem line, satisfying
// reset.DTRSetter for boards with no addressable reset GPIO.
func (t *TTY) SetDTR(asserted bool) error {
	if asserted {
		return t.port.EnableModemLines(goserial.TIOCM_DTR)
	}
	return t.port.DisableModemLines(goserial.TIOCM_DTR)
}
