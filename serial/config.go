package serial

import (
	"log/slog"
	"time"
)

// Config holds Queue tuning knobs. Grounded on the teacher's defaults.go /
// options.go split: an exported Config struct with a package-level
// defaultConfig/validateConfig pair, populated through functional Options
// rather than constructor parameters.
type Config struct {
	// HistoryLength bounds how many already-sent instructions are kept
	// so a "Resend: k" can rewind to them (spec.md §4.1, HISTORY_LENGTH).
	HistoryLength int

	// ConfirmTimeout is how long the queue waits for a confirmation
	// before failing an instruction outright.
	ConfirmTimeout time.Duration

	// ReadBuffer bounds the inbound line channel between the transport
	// reader and the dispatch loop.
	ReadBuffer int

	// WriteBuffer bounds the outbound enqueue channel.
	WriteBuffer int

	// Logger receives the queue's structured diagnostics (stalls,
	// resends). Defaults to slog.Default().
	Logger *slog.Logger
}

func defaultConfig() Config {
	return Config{
		HistoryLength:  30,
		ConfirmTimeout: 25 * time.Second,
		ReadBuffer:     64,
		WriteBuffer:    256,
	}
}

func validateConfig(c Config) error {
	if c.HistoryLength <= 0 {
		return ErrInvalidConfig
	}
	if c.ConfirmTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.ReadBuffer < 0 || c.WriteBuffer < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Option configures a Queue at construction time, following the teacher's
// options.go functional-options pattern (WithX closures mutating a private
// Config).
type Option func(*Config)

// WithHistoryLength overrides HISTORY_LENGTH.
func WithHistoryLength(n int) Option {
	return func(c *Config) { c.HistoryLength = n }
}

// WithConfirmTimeout overrides the per-instruction confirmation timeout.
func WithConfirmTimeout(d time.Duration) Option {
	return func(c *Config) { c.ConfirmTimeout = d }
}

// WithReadBuffer overrides the inbound line channel capacity.
func WithReadBuffer(n int) Option {
	return func(c *Config) { c.ReadBuffer = n }
}

// WithWriteBuffer overrides the outbound enqueue channel capacity.
func WithWriteBuffer(n int) Option {
	return func(c *Config) { c.WriteBuffer = n }
}

// WithLogger overrides the queue's structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
