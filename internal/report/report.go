// Package report turns driver outcomes into log lines and fans them out to
// other sinks.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/luhtfiimanal/go-sensor-termio/driver"
	"github.com/luhtfiimanal/go-sensor-termio/frame"
)

// NewLogger builds the process logger. format is "console" or "json".
func NewLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("report: log level %q: %w", level, err)
	}
	if w == nil {
		w = os.Stderr
	}

	switch strings.ToLower(format) {
	case "", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly, NoColor: !isTerminal(w)}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("report: unknown log format %q", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// LogReporter writes one log event per outcome.
type LogReporter struct {
	log zerolog.Logger
}

// NewLogReporter returns a driver.Reporter that logs through l.
func NewLogReporter(l zerolog.Logger) *LogReporter {
	return &LogReporter{log: l}
}

func (r *LogReporter) Report(o driver.Outcome) {
	switch o.Kind {
	case driver.KindReading:
		r.log.Info().
			Uint64("cycle", o.Cycle).
			Uint32("sensor", o.Reading.SensorID).
			Uint32("measure", o.Reading.MeasureID).
			Float64("value", o.Reading.Value).
			Msg(o.Reading.String())
	case driver.KindMalformed:
		r.log.Warn().
			Uint64("cycle", o.Cycle).
			Err(o.Err).
			Int("length", o.Length).
			Str("raw", frame.Escape(o.Raw)).
			Msg("parse error")
	case driver.KindTimedOut:
		r.log.Warn().
			Uint64("cycle", o.Cycle).
			Dur("elapsed", o.Elapsed).
			Int("buffered", o.Length).
			Msg("no response from sensor")
	case driver.KindOverflowed:
		r.log.Warn().
			Uint64("cycle", o.Cycle).
			Int("length", o.Length).
			Str("raw", frame.Escape(o.Raw)).
			Msg("response exceeds frame buffer, discarded")
	case driver.KindCancelled:
		r.log.Info().Uint64("cycle", o.Cycle).Msg("cycle cancelled")
	default:
		r.log.Error().Uint64("cycle", o.Cycle).Stringer("kind", o.Kind).Msg("unknown outcome")
	}
}

// Fanout delivers every outcome to each reporter in order.
type Fanout []driver.Reporter

func (f Fanout) Report(o driver.Outcome) {
	for _, r := range f {
		r.Report(o)
	}
}
