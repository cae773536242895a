package items

import (
	"log/slog"

	"github.com/printlink-go/core/metrics"
)

// Option configures an Updater at construction time, following this
// module's teacher-grounded functional-options convention (serial.Option,
// command.Option).
type Option func(*Updater)

// WithLogger installs a structured logger for gather-failure diagnostics.
// Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(u *Updater) {
		if l != nil {
			u.log = l
		}
	}
}

// WithMetricsProvider installs a metrics.Provider used to count gather
// errors in a single counter shared by all items, feeding SPEC_FULL.md's
// "items.Updater (gather error counters)" telemetry point. Defaults to a
// no-op provider.
func WithMetricsProvider(p metrics.Provider) Option {
	return func(u *Updater) {
		if p != nil {
			u.metrics = p
			u.gatherErrors = p.Counter("item_gather_errors", metrics.WithDescription("gather failures across all watched items"))
		}
	}
}
