package command

import (
	"log/slog"
	"time"
)

// Config holds Engine tuning knobs. Grounded on the teacher's defaults.go /
// options.go split (an exported Config plus a private defaultConfig /
// validateConfig pair, populated through functional Options).
type Config struct {
	// QuitInterval bounds every "while running" polling wait (spec.md §5,
	// §6 QUIT_INTERVAL).
	QuitInterval time.Duration

	// StateChangeTimeout bounds TryUntilState's wait for the printer to
	// reach one of its desired states (spec.md §6 STATE_CHANGE_TIMEOUT).
	StateChangeTimeout time.Duration

	// PrinterBootWait bounds how long ResetPrinter waits to see the boot
	// banner after a reset pulse (spec.md §6 PRINTER_BOOT_WAIT), before
	// being raised to at least SerialQueueTimeout per spec.md §4.3.
	PrinterBootWait time.Duration

	// SerialQueueTimeout mirrors the queue's own confirmation timeout;
	// ResetPrinter's effective timeout is max(PrinterBootWait,
	// SerialQueueTimeout).
	SerialQueueTimeout time.Duration

	// SDMountName is the path segment identifying the SD card in a
	// StartPrint path, e.g. "/SD Card/object.gcode" (spec.md §4.3
	// StartPrint: "first segment equals the SD mount name").
	SDMountName string

	// M0AfterPrints disables clearing FINISHED/STOPPED on instruction
	// confirmation (spec.md §4.4 transition table,
	// "instruction_confirmed()"), for firmwares configured to emit an M0
	// pause after a finished print that the user must separately
	// acknowledge.
	M0AfterPrints bool

	// MaxConcurrentCommands bounds the Engine's dispatch pool (spec.md
	// doesn't mandate a specific concurrency model for the Command
	// Engine beyond "cooperative cancellation"; this reuses the
	// teacher's fixed-pool concept to bound how many commands may run at
	// once, e.g. a background JobInfo poll alongside a foreground
	// StartPrint).
	MaxConcurrentCommands uint

	// Logger receives per-command diagnostics (failures, panics).
	// Defaults to slog.Default().
	Logger *slog.Logger
}

func defaultConfig() Config {
	return Config{
		QuitInterval:          200 * time.Millisecond,
		StateChangeTimeout:    15 * time.Second,
		PrinterBootWait:       8 * time.Second,
		SerialQueueTimeout:    25 * time.Second,
		SDMountName:           "SD Card",
		M0AfterPrints:         false,
		MaxConcurrentCommands: 4,
		Logger:                slog.Default(),
	}
}

func validateConfig(c Config) error {
	if c.QuitInterval <= 0 || c.StateChangeTimeout <= 0 || c.PrinterBootWait <= 0 || c.SerialQueueTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.SDMountName == "" {
		return ErrInvalidConfig
	}
	if c.MaxConcurrentCommands == 0 {
		return ErrInvalidConfig
	}
	return nil
}

// resetTimeout is the effective ResetPrinter timeout: at least
// PrinterBootWait and at least SerialQueueTimeout (spec.md §4.3).
func (c Config) resetTimeout() time.Duration {
	t := c.PrinterBootWait
	if c.SerialQueueTimeout > t {
		t = c.SerialQueueTimeout
	}
	return t
}

// Option configures an Engine at construction time, following the
// teacher's options.go functional-options pattern.
type Option func(*Config)

// WithQuitInterval overrides QUIT_INTERVAL.
func WithQuitInterval(d time.Duration) Option { return func(c *Config) { c.QuitInterval = d } }

// WithStateChangeTimeout overrides STATE_CHANGE_TIMEOUT.
func WithStateChangeTimeout(d time.Duration) Option {
	return func(c *Config) { c.StateChangeTimeout = d }
}

// WithPrinterBootWait overrides PRINTER_BOOT_WAIT.
func WithPrinterBootWait(d time.Duration) Option { return func(c *Config) { c.PrinterBootWait = d } }

// WithSerialQueueTimeout overrides the queue-timeout component of
// ResetPrinter's effective timeout.
func WithSerialQueueTimeout(d time.Duration) Option {
	return func(c *Config) { c.SerialQueueTimeout = d }
}

// WithSDMountName overrides the path segment identifying SD-resident
// print jobs.
func WithSDMountName(name string) Option { return func(c *Config) { c.SDMountName = name } }

// WithM0AfterPrints enables the M0-after-prints behavior.
func WithM0AfterPrints() Option { return func(c *Config) { c.M0AfterPrints = true } }

// WithMaxConcurrentCommands overrides the dispatch pool's capacity.
func WithMaxConcurrentCommands(n uint) Option {
	return func(c *Config) { c.MaxConcurrentCommands = n }
}

// WithLogger overrides the Engine's structured logger. A nil logger is
// ignored, leaving the default in place.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}
