package command

import "time"

// defaultNow is nowFunc's production implementation, kept as a named
// function (rather than inlining time.Now) so tests can swap nowFunc for a
// deterministic clock without a sleep.
func defaultNow() time.Time { return time.Now() }
