package command

import "github.com/printlink-go/core/state"

// PausePrint pauses an in-progress print (spec.md §4.3), grounded on
// command_handlers.py's PausePrint.
type PausePrint struct{ base }

func NewPausePrint() *PausePrint { return &PausePrint{} }
func (c *PausePrint) Name() string { return "pause_print" }

func (c *PausePrint) Run(eng *Engine) (map[string]any, error) {
	if eng.Manager.GetState() != state.Printing {
		return c.fail(c.Name(), "Cannot pause when not printing")
	}
	if eng.FP != nil && eng.FP.Printing() {
		if err := eng.FP.Pause(); err != nil {
			return c.failWrap(c.Name(), "file printer refused to pause", err)
		}
	}
	if eng.Stats != nil {
		eng.Stats.EndTimeSegment(nowFunc())
	}
	if err := c.tryUntilState(eng, "M601", state.Paused); err != nil {
		return nil, err
	}
	return nil, nil
}

// ResumePrint resumes a paused print (spec.md §4.3).
type ResumePrint struct{ base }

func NewResumePrint() *ResumePrint  { return &ResumePrint{} }
func (c *ResumePrint) Name() string { return "resume_print" }

func (c *ResumePrint) Run(eng *Engine) (map[string]any, error) {
	if eng.Manager.GetState() != state.Paused {
		return c.fail(c.Name(), "Cannot resume when not paused")
	}
	if eng.Stats != nil {
		eng.Stats.StartTimeSegment(nowFunc())
	}
	if err := c.tryUntilState(eng, "M602", state.Printing); err != nil {
		return nil, err
	}
	// A locally file-printed job resumes itself once the serial line
	// reports PRINTING again; nothing further to do here (mirrors the
	// original's commented-out self.file_printer.resume() — the file
	// printer component recognizes the resume from the line on its own).
	return nil, nil
}

// StopPrint aborts the current print (spec.md §4.3).
type StopPrint struct{ base }

func NewStopPrint() *StopPrint     { return &StopPrint{} }
func (c *StopPrint) Name() string  { return "stop_print" }

func (c *StopPrint) Run(eng *Engine) (map[string]any, error) {
	job := eng.Job()

	if eng.FP != nil && eng.FP.Printing() {
		if err := eng.FP.Stop(); err != nil {
			return c.failWrap(c.Name(), "file printer refused to stop", err)
		}
	}

	if err := c.tryUntilState(eng, "M603", state.Stopped, state.Finished); err != nil {
		return nil, err
	}

	return map[string]any{"job_id": job.ID}, nil
}

// nowFunc is a seam for tests; production code always uses time.Now.
var nowFunc = defaultNow
