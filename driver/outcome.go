package driver

import (
	"time"

	"github.com/luhtfiimanal/go-sensor-termio/frame"
)

// Kind tags the result of one query/response cycle.
type Kind int

const (
	KindReading Kind = iota
	KindMalformed
	KindTimedOut
	KindOverflowed
	KindCancelled
)

var kindNames = [...]string{
	KindReading:    "reading",
	KindMalformed:  "malformed",
	KindTimedOut:   "timed_out",
	KindOverflowed: "overflowed",
	KindCancelled:  "cancelled",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Outcome is the single result of one cycle.
type Outcome struct {
	Kind  Kind
	Cycle uint64
	At    time.Time

	// Reading is set for KindReading.
	Reading frame.Reading
	// Raw holds the buffered bytes for KindMalformed, KindOverflowed and
	// KindTimedOut. A malformed line keeps its newline.
	Raw []byte
	// Err explains a KindMalformed outcome.
	Err error
	// Elapsed is the accumulated poll wait for KindTimedOut.
	Elapsed time.Duration
	// Length is len(Raw) for the same kinds.
	Length int
}

// Reporter consumes cycle outcomes. Report is called on the driver's
// goroutine and should return quickly.
type Reporter interface {
	Report(Outcome)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Outcome)

func (f ReporterFunc) Report(o Outcome) { f(o) }

// Stats counts outcomes over the driver's lifetime.
type Stats struct {
	Readings     uint64
	Malformed    uint64
	TimedOut     uint64
	Overflowed   uint64
	Cancelled    uint64
	Restarts     uint64
	BytesWritten uint64
}

func (s *Stats) count(k Kind) {
	switch k {
	case KindReading:
		s.Readings++
	case KindMalformed:
		s.Malformed++
	case KindTimedOut:
		s.TimedOut++
	case KindOverflowed:
		s.Overflowed++
	case KindCancelled:
		s.Cancelled++
	}
}
