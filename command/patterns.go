package command

import "regexp"

// Patterns names the regex families the Command Engine matches against
// inbound serial lines (spec.md §6): the M23 open-file acknowledgement, a
// generic command-rejection line (used by ExecuteGcode to detect an
// unknown gcode) and the printer's boot banner (used by ResetPrinter).
type Patterns struct {
	OpenResult  *regexp.Regexp
	Rejection   *regexp.Regexp
	PrinterBoot *regexp.Regexp
}
