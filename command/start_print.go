package command

import (
	"strings"
	"time"

	"github.com/printlink-go/core/state"
)

// StartPrint starts a print from either the SD card or local storage
// (spec.md §4.3), grounded on command_handlers.py's StartPrint.
type StartPrint struct {
	base
	Path string
}

// NewStartPrint builds a StartPrint for the given connect-style path
// (e.g. "/SD Card/object.gcode" or "/usb/object.gcode").
func NewStartPrint(path string) *StartPrint { return &StartPrint{Path: path} }

func (c *StartPrint) Name() string { return "start_print" }

func (c *StartPrint) Run(eng *Engine) (map[string]any, error) {
	st := eng.Manager.GetState()
	switch st {
	case state.Printing, state.Paused, state.Finished, state.Stopped:
		return c.failWrap(c.Name(), "Already printing", ErrAlreadyPrinting)
	case state.Error, state.Attention:
		return c.fail(c.Name(), "Cannot print in "+st.String()+" state")
	}

	eng.Manager.ExpectChange(state.Change{
		CommandID: c.commandID,
		ToStates:  map[state.State]state.Source{state.Printing: c.source},
	})

	onSD, sdPath := splitSDPath(c.Path, eng.cfg.SDMountName)
	if onSD {
		if err := c.startFromSD(eng, sdPath); err != nil {
			return nil, err
		}
	} else {
		if err := c.startFromLocal(eng); err != nil {
			return nil, err
		}
	}

	if eng.Stats != nil && !onSD {
		osPath, _ := eng.FS.OSPath(c.Path)
		_ = eng.Stats.TrackNewPrint(osPath, time.Now())
	}

	eng.setJob(Job{ID: eng.Job().ID + 1, FilePath: c.Path, State: JobInProgress})
	eng.Manager.Printing()
	return map[string]any{"path": c.Path}, nil
}

func (c *StartPrint) startFromSD(eng *Engine, sdPath string) error {
	shortPath := sdPath
	if eng.SD != nil {
		if s, ok := eng.SD.Translate(sdPath); ok {
			shortPath = s
		}
	}
	lower := strings.ToLower(shortPath) // firmware requires lowercase 8.3 names

	instr, err := c.doMatchable(eng.Queue, "M23 "+lower, eng.Patterns.OpenResult)
	if err != nil {
		return err
	}
	m := instr.Match()
	if m == nil || m.Groups["ok"] == "" {
		_, ferr := c.fail(c.Name(), "Wrong file name, or bad file: "+lower)
		return ferr
	}
	_, err = c.doInstruction(eng.Queue, "M24")
	return err
}

func (c *StartPrint) startFromLocal(eng *Engine) error {
	if eng.FS == nil || !eng.FS.Exists(c.Path) {
		_, err := c.fail(c.Name(), "The file at "+c.Path+" does not exist")
		return err
	}
	osPath, err := eng.FS.OSPath(c.Path)
	if err != nil {
		_, ferr := c.failWrap(c.Name(), "could not resolve "+c.Path+" to a local path", err)
		return ferr
	}
	if eng.FP == nil {
		_, ferr := c.fail(c.Name(), "no local file printer configured")
		return ferr
	}
	return eng.FP.Print(osPath)
}

// splitSDPath reports whether path's first segment matches mountName and,
// if so, returns the remaining SD-relative path rooted at "/" (spec.md
// §4.3: "Distinguishes SD paths (first segment equals the SD mount
// name)").
func splitSDPath(path, mountName string) (onSD bool, sdPath string) {
	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 0 || parts[0] != mountName {
		return false, ""
	}
	if len(parts) == 1 {
		return true, "/"
	}
	return true, "/" + parts[1]
}
