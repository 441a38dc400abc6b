// Package lcd implements the Stats Sink the Scheduler pushes periodic
// fleet-wide summary stats to, mirroring the external LCD-display
// collaborator of the system this was distilled from: the scheduler only
// knows it has a bag of label->value strings to hand off, never the
// concrete display hardware.
//
// No example repo in the retrieved corpus depends on an I2C/GPIO driver
// (the physical display only appears in the reference source for this
// spec, never as a dependency of a complete repo), so there is no
// ecosystem library to ground a real hardware driver on here; LoggingSink
// is the stand-in collaborator until one is wired in.
package lcd

import (
	"context"
	"log/slog"
)

// StatsSink receives a refreshed snapshot of fleet-wide summary stats.
type StatsSink interface {
	Display(ctx context.Context, stats map[string]string) error
}

// LoggingSink logs the stats it would otherwise push to a physical display.
type LoggingSink struct {
	Log *slog.Logger
}

func NewLoggingSink(log *slog.Logger) LoggingSink {
	if log == nil {
		log = slog.Default()
	}
	return LoggingSink{Log: log}
}

func (s LoggingSink) Display(ctx context.Context, stats map[string]string) error {
	s.Log.Info("lcd stats refresh", "stats", stats)
	return nil
}
