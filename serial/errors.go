package serial

import "errors"

// Sentinel errors, grounded on the teacher's errors.go (package-level
// errors.New values rather than ad-hoc fmt.Errorf strings at call sites).
var (
	// ErrQueueStopped is returned by Wait and Enqueue once the queue has
	// been stopped.
	ErrQueueStopped = errors.New("serial: queue stopped")

	// ErrResendWindowExhausted is fatal to the session: the printer asked
	// to resend a sequence number older than the retained history.
	ErrResendWindowExhausted = errors.New("serial: resend requested for a sequence older than history")

	// ErrConfirmTimeout is set on an instruction, and returned by Wait for
	// it, when no confirmation arrives within the configured timeout.
	ErrConfirmTimeout = errors.New("serial: instruction confirmation timed out")

	// ErrAlreadySent is returned by Enqueue for an instruction that already
	// carries a sequence number; only the resend path re-dispatches one.
	ErrAlreadySent = errors.New("serial: instruction already sent")

	// ErrInvalidConfig is returned by NewQueue when options conflict or
	// are out of range.
	ErrInvalidConfig = errors.New("serial: invalid queue configuration")

	// ErrHandlerNotRegistered is returned by RemoveLineHandler when tok
	// doesn't name a currently registered handler (spec.md §4.1:
	// remove_handler "fails if absent").
	ErrHandlerNotRegistered = errors.New("serial: line handler not registered")
)
