// Command printlinkd wires the core's packages into a runnable adapter
// process: it opens the printer's serial port, builds the Serial Queue,
// State Manager, Item Updater and Command Engine, and connects the line
// patterns named in spec.md §6. It is illustrative wiring, not part of the
// core's own scope (SPEC_FULL.md §5) — the HTTP surface, file scanning and
// IPC transport a real deployment needs all stay external collaborators.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/printlink-go/core/command"
	"github.com/printlink-go/core/items"
	"github.com/printlink-go/core/sdcard"
	"github.com/printlink-go/core/serial"
	"github.com/printlink-go/core/serial/transport"
	"github.com/printlink-go/core/state"
)

func main() {
	port := flag.String("port", "/dev/ttyACM0", "serial device the printer is attached to")
	baud := flag.Uint("baud", uint(transport.Baud115200), "serial baud rate")
	sdMount := flag.String("sd-mount", "SD Card", "path segment identifying the SD card in a StartPrint path")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	tty, err := transport.OpenTTY(*port, transport.Baud(*baud), 200*time.Millisecond)
	if err != nil {
		log.Error("open serial port", "port", *port, "error", err)
		os.Exit(1)
	}

	queue, err := serial.NewQueue(tty, serial.WithLogger(log))
	if err != nil {
		log.Error("build serial queue", "error", err)
		os.Exit(1)
	}
	defer queue.Close()
	go queue.Run()

	manager := state.New()
	manager.Wire(queue, linePatterns())

	updater := items.New(items.WithLogger(log))
	updater.Start()
	defer updater.Stop()

	sd := sdcard.New(queue, manager, sdPatterns())

	stats := command.NewPrintStats(time.Now())

	eng, err := command.New(queue, manager, updater, stats, noopFilesystem{}, noopFilePrinter{}, cmdPatterns(),
		command.WithLogger(log),
		command.WithSDMountName(*sdMount),
	)
	if err != nil {
		log.Error("build command engine", "error", err)
		os.Exit(1)
	}
	defer eng.Close()
	eng.AttachSD(sd)

	ipc := command.NewIPCBridge(eng)
	ipc.AddHandler("job_info", func() command.Command { return command.NewJobInfo() })
	ipc.AddHandler("pause", func() command.Command { return command.NewPausePrint() })
	ipc.AddHandler("resume", func() command.Command { return command.NewResumePrint() })
	ipc.AddHandler("stop", func() command.Command { return command.NewStopPrint() })

	manager.StateChanged.Connect(func(e state.StateChangedEvent) {
		log.Info("state changed", "from", e.From, "to", e.To, "source", e.Source, "reason", e.Reason)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	log.Info("printlinkd running", "port", *port)
	<-ctx.Done()
	log.Info("shutting down")
}

// linePatterns builds the state.Manager's regex families (spec.md §6:
// "paused/resumed/cancel/start-print/print-done markers", "error family
// with sub-groups", "fan error with fan_name"). A production deployment
// tunes these per firmware fork; these are the common Marlin-derived
// forms.
func linePatterns() state.LinePatterns {
	return state.LinePatterns{
		Busy:       regexp.MustCompile(`^echo:busy: processing`),
		Attention:  regexp.MustCompile(`^//action:pause|Knob click|LCD cancel`),
		Paused:     regexp.MustCompile(`^//action:paused`),
		Resumed:    regexp.MustCompile(`^//action:resumed`),
		Cancel:     regexp.MustCompile(`^//action:cancel`),
		StartPrint: regexp.MustCompile(`^//action:print_start`),
		PrintDone:  regexp.MustCompile(`^Done printing file`),
		Error: regexp.MustCompile(
			`(?P<stop>Error:Printer stopped)|(?P<kill>.*Heating failed)|` +
				`(?P<temp>(?P<mintemp>MINTEMP)|(?P<maxtemp>MAXTEMP)).*(?P<bed>bed)?|` +
				`(?P<runaway>THERMAL RUNAWAY)(?P<hotend_runaway>.*extruder)?(?P<heatbed_runaway>.*bed)?|` +
				`(?P<bed_levelling>Bed leveling failed)`,
		),
		FanError: regexp.MustCompile(`(?P<fan_name>\w+) fan speed is lower than expected`),
	}
}

func sdPatterns() sdcard.Patterns {
	return sdcard.Patterns{
		SDPresent:  regexp.MustCompile(`^(?P<present>SD card ok)`),
		SDEjected:  regexp.MustCompile(`^SD card released`),
		BeginFiles: regexp.MustCompile(`^Begin file list`),
		EndFiles:   regexp.MustCompile(`^End file list`),
		LFNCapture: regexp.MustCompile(
			`(?:(?P<dir_enter>DIR_ENTER:)(?P<dir_name>.+))|` +
				`(?:(?P<item>(?P<short_path>\S+) (?P<long_name>.+) (?P<size>\d+)))|` +
				`(?P<dir_exit>DIR_EXIT)`,
		),
	}
}

func cmdPatterns() command.Patterns {
	return command.Patterns{
		OpenResult:  regexp.MustCompile(`(?P<ok>File opened: .+ Size: \d+)`),
		Rejection:   regexp.MustCompile(`(?i)unknown command`),
		PrinterBoot: regexp.MustCompile(`^start$`),
	}
}

// noopFilesystem/noopFilePrinter stand in for the file-scanning and
// local-file-printing collaborators spec.md §1 places out of core scope.
// A real deployment supplies implementations backed by its own file
// scanner and print-from-file engine.
type noopFilesystem struct{}

func (noopFilesystem) Exists(string) bool { return false }
func (noopFilesystem) OSPath(path string) (string, error) {
	return "", fmt.Errorf("printlinkd: no filesystem collaborator configured for %q", path)
}

type noopFilePrinter struct{}

func (noopFilePrinter) Print(string) error {
	return fmt.Errorf("printlinkd: no file-printer collaborator configured")
}
func (noopFilePrinter) Pause() error   { return nil }
func (noopFilePrinter) Resume() error  { return nil }
func (noopFilePrinter) Stop() error    { return nil }
func (noopFilePrinter) Printing() bool { return false }
