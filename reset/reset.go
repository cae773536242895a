// Package reset implements the printer hardware reset shim: a GPIO pulse
// where available, falling back to toggling the serial port's DTR line.
// Grounded on old_buddy/command_handlers/reset_printer.py.
package reset

import (
	"errors"
	"fmt"
	"time"
)

// forbiddenPin is BCM pin 23: on the reference hardware it is wired
// straight to ground, and driving it would damage the board. Refusing to
// touch it is a hard rule, not a configuration default.
const forbiddenPin = 23

// ErrForbiddenPin is returned by NewGPIOPulser/Pulse for pin 23.
var ErrForbiddenPin = errors.New("reset: pin 23 is wired to ground on this hardware and must never be driven")

// Pin is a GPIO line capable of driving a reset pulse. Implementations
// (sysfs, a GPIO character-device library, etc.) are supplied by callers;
// this package only encodes the pulse shape and the pin-23 refusal.
type Pin interface {
	SetOutput() error
	SetLow() error
	SetHigh() error
}

// DTRSetter is satisfied by a transport that exposes its DTR line,
// the fallback path when no GPIO pin is available.
type DTRSetter interface {
	SetDTR(asserted bool) error
}

// Pulser issues the reset sequence.
type Pulser struct {
	pinNumber int
	pin       Pin
	dtr       DTRSetter
}

// NewGPIOPulser builds a Pulser driving pin directly. pinNumber is recorded
// purely so the pin-23 hard rule can be enforced without trusting the Pin
// implementation to know its own number.
func NewGPIOPulser(pinNumber int, pin Pin) (*Pulser, error) {
	if pinNumber == forbiddenPin {
		return nil, ErrForbiddenPin
	}
	return &Pulser{pinNumber: pinNumber, pin: pin}, nil
}

// NewDTRPulser builds a Pulser that blips DTR on dtr instead of driving a
// GPIO line, used when no pigpio-equivalent is available.
func NewDTRPulser(dtr DTRSetter) *Pulser {
	return &Pulser{dtr: dtr}
}

// Pulse drives the reset line low, high, holds 100ms, then low again (the
// GPIO path), or blips DTR once (the serial fallback path).
func (p *Pulser) Pulse() error {
	if p.pin != nil {
		if p.pinNumber == forbiddenPin {
			return ErrForbiddenPin
		}
		if err := p.pin.SetOutput(); err != nil {
			return fmt.Errorf("reset: configure pin as output: %w", err)
		}
		if err := p.pin.SetLow(); err != nil {
			return err
		}
		if err := p.pin.SetHigh(); err != nil {
			return err
		}
		time.Sleep(100 * time.Millisecond)
		return p.pin.SetLow()
	}
	if p.dtr != nil {
		if err := p.dtr.SetDTR(true); err != nil {
			return err
		}
		time.Sleep(100 * time.Millisecond)
		return p.dtr.SetDTR(false)
	}
	return errors.New("reset: no pin or DTR line configured")
}
