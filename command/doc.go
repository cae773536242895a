// Package command implements the Command Engine (spec.md §4.3): the nine
// high-level printer operations (StartPrint, PausePrint, ResumePrint,
// StopPrint, ExecuteGcode, LoadFilament, UnloadFilament, ResetPrinter,
// JobInfo) plus the shared TryUntilState helper and cooperative-shutdown
// scaffolding that dispatches them.
//
// Grounded on the original Python command_handlers.py (the nine commands
// and TryUntilState) and on this repository's teacher,
// github.com/ygrebnov/workers: the Engine's dispatch loop is the teacher's
// dispatcher.go/worker.go/pool split adapted from generic Task[R] execution
// to running one Command at a time per in-flight slot, and its shutdown is
// the teacher's lifecycleCoordinator (here reused directly from the bus
// package) sequencing cancel -> close the stop channel -> wait inflight.
package command
