package command

// Filesystem is the external file-scanning collaborator (spec.md §1: "file
// system scanning" is out of scope for the core, a thin external
// collaborator). StartPrint uses it to resolve a connect-style path for a
// locally stored file to a real OS path, grounded on
// printer_adapter/command_handlers.py's self.printer.fs.
type Filesystem interface {
	// Exists reports whether path (in connect/API path form, not an OS
	// path) refers to a real file.
	Exists(path string) bool

	// OSPath resolves path to an absolute filesystem path the file
	// printer collaborator can open.
	OSPath(path string) (string, error)
}

// FilePrinter is the external local-file print engine (also out of
// core scope per spec.md §1). StartPrint/PausePrint/ResumePrint/StopPrint
// hand off to it for locally stored (non-SD) jobs.
type FilePrinter interface {
	Print(osPath string) error
	Pause() error
	Resume() error
	Stop() error
	Printing() bool
}

// JobState mirrors structures.model_classes.JobState: where the current
// job, if any, stands.
type JobState int

const (
	JobIdle JobState = iota
	JobInProgress
	JobEnding
)

// Job tracks the currently selected print job, owned by the Engine and
// read by JobInfo. Grounded on the original's informers/job.py, trimmed to
// the fields JobInfo's contract (spec.md §4.3) actually needs.
type Job struct {
	ID       int
	FilePath string
	State    JobState
}
