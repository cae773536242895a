package command

import (
	"time"

	"github.com/printlink-go/core/reset"
)

// ResetPrinter pulses the reset line (GPIO or DTR fallback) and waits for
// the printer's boot banner to confirm it actually restarted, grounded on
// old_buddy/command_handlers/reset_printer.py's ResetPrinter.
type ResetPrinter struct{ base }

func NewResetPrinter() *ResetPrinter { return &ResetPrinter{} }
func (c *ResetPrinter) Name() string { return "reset_printer" }

func (c *ResetPrinter) Run(eng *Engine) (map[string]any, error) {
	if eng.Reset == nil {
		return c.fail(c.Name(), "no reset line configured for this printer")
	}

	booted := make(chan struct{}, 1)
	tok := eng.Queue.AddLineHandler(eng.Patterns.PrinterBoot, func(string, map[string]string) {
		select {
		case booted <- struct{}{}:
		default:
		}
	})
	defer eng.Queue.RemoveLineHandler(tok)

	if err := eng.Reset.Pulse(); err != nil {
		if err == reset.ErrForbiddenPin {
			return c.fail(c.Name(), "Pin BCM_23 is by default connected straight to ground. This would destroy your pin.")
		}
		return c.failWrap(c.Name(), "failed to pulse the reset line", err)
	}

	deadline := time.Now().Add(eng.cfg.resetTimeout())
	for c.running.Get() && time.Now().Before(deadline) {
		select {
		case <-booted:
			return nil, nil
		case <-time.After(c.quitInterval):
		}
	}

	if !c.running.Get() {
		return nil, ErrInterrupted
	}

	return c.failWrap(c.Name(), "Your printer has ignored the reset signal, check the wiring or the configured pin", ErrBootBannerMissing)
}
