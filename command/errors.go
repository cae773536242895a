package command

import (
	"errors"
	"fmt"

	"github.com/ygrebnov/errorc"
)

// Sentinel errors, grounded on the teacher's errors.go (package-level
// errors.New values rather than ad-hoc fmt.Errorf strings at call sites).
var (
	ErrInvalidConfig     = errors.New("command: invalid engine configuration")
	ErrEngineStopped     = errors.New("command: engine stopped")
	ErrAlreadyPrinting   = errors.New("command: already printing")
	ErrRefusedByState    = errors.New("command: refused by current printer state")
	ErrFileNotFound      = errors.New("command: file does not exist")
	ErrUnknownGcode      = errors.New("command: unknown or rejected gcode")
	ErrInterrupted       = errors.New("command: interrupted before completion")
	ErrNoJob             = errors.New("command: no job in progress")
	ErrBootBannerMissing = errors.New("command: printer did not report its boot banner in time")
	ErrUnknownIPCCommand = errors.New("command: unrecognized ipc command name")
)

// FailedError is the structured CommandFailed condition of spec.md §4.3,
// carrying the originating command's ID and a human-readable reason. It
// mirrors the teacher's TaskMetaError (error_tagging.go): unwrappable via
// errors.As/errors.Is, correlating a failure back to its command_id.
type FailedError struct {
	CommandID *int
	Name      string
	Reason    string
	err       error
}

func (e *FailedError) Error() string {
	if e.CommandID != nil {
		return fmt.Sprintf("command %s (id=%d): %s", e.Name, *e.CommandID, e.Reason)
	}
	return fmt.Sprintf("command %s: %s", e.Name, e.Reason)
}

func (e *FailedError) Unwrap() error { return e.err }

// newFailure builds a *FailedError for commandName, correlating it to
// commandID (nil if this command was not initiated through Connect/the
// cloud control plane) and wrapping cause with errorc so subscribers that
// walk the chain with errors.As can still recover structured context from
// the underlying cause, not just the formatted reason string.
func newFailure(commandID *int, commandName, reason string) *FailedError {
	cause := errorc.New(reason)
	return &FailedError{CommandID: commandID, Name: commandName, Reason: reason, err: cause}
}

// newFailureWrap is newFailure for a command that failed because an
// underlying operation (a serial wait, a filesystem call) returned an
// error, preserving that error in the chain via errorc.Wrap instead of
// flattening it into a string.
func newFailureWrap(commandID *int, commandName, reason string, cause error) *FailedError {
	wrapped := errorc.Wrap(cause, reason)
	return &FailedError{CommandID: commandID, Name: commandName, Reason: reason, err: wrapped}
}
