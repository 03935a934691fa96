// Package driver runs the query/response polling protocol against a sensor
// behind a canonical-mode serial line.
//
// Each cycle writes the fixed query, then accumulates one response line into a
// bounded FrameBuffer. A cycle ends in exactly one Outcome: a decoded reading,
// a malformed frame, a timeout, a buffer overflow, or cancellation. Timeouts,
// overflows and malformed frames are reported and the next cycle starts with an
// empty buffer; only I/O failures stop the loop with an error.
package driver

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	serial "github.com/luhtfiimanal/go-sensor-termio"
	"github.com/luhtfiimanal/go-sensor-termio/cancel"
	"github.com/luhtfiimanal/go-sensor-termio/frame"
)

const (
	// Query is the command that asks the sensor for one reading.
	Query = "get"

	DefaultPollInterval  = 20 * time.Millisecond
	DefaultCycleDeadline = 620 * time.Millisecond
)

// ErrAlreadyRun is returned by a second call to Run; the port is gone by then.
var ErrAlreadyRun = errors.New("driver: already run")

// Port is the serial channel the driver owns. *serial.Port implements it.
//
// ReadNonBlocking must return serial.ErrWouldBlock when no complete line is
// available; ReadBlocking must return serial.ErrInterrupted when woken without data.
type Port interface {
	Write(p []byte) (int, error)
	ReadNonBlocking(p []byte) (int, error)
	ReadBlocking(p []byte) (int, error)
	Close() error
}

// Mode selects how the response is awaited.
type Mode int

const (
	// NonBlocking polls with a short sleep and gives up at the cycle deadline.
	NonBlocking Mode = iota
	// Blocking suspends in the read until a line arrives or a signal wakes it.
	Blocking
)

func (m Mode) String() string {
	switch m {
	case NonBlocking:
		return "nonblocking"
	case Blocking:
		return "blocking"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts "nonblocking" or "blocking".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nonblocking", "non-blocking":
		return NonBlocking, nil
	case "blocking":
		return Blocking, nil
	}
	return 0, fmt.Errorf("driver: unknown mode %q: expected nonblocking or blocking", s)
}

// Config tunes the cycle timing.
type Config struct {
	Mode          Mode
	PollInterval  time.Duration
	CycleDeadline time.Duration
}

// DefaultConfig returns the timing the sensor was designed around.
func DefaultConfig() Config {
	return Config{
		Mode:          NonBlocking,
		PollInterval:  DefaultPollInterval,
		CycleDeadline: DefaultCycleDeadline,
	}
}

// Validate checks the configuration without changing it.
func (c Config) Validate() error {
	if c.Mode != NonBlocking && c.Mode != Blocking {
		return fmt.Errorf("driver: invalid mode %v", c.Mode)
	}
	if c.PollInterval <= 0 {
		return errors.New("driver: poll interval must be > 0")
	}
	if c.CycleDeadline < c.PollInterval {
		return errors.New("driver: cycle deadline must be >= poll interval")
	}
	return nil
}

// Option customises a Driver.
type Option func(*Driver)

// WithLogger sets the logger used for loop diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Driver) { d.log = l }
}

// WithReporter sets the consumer of cycle outcomes.
func WithReporter(r Reporter) Option {
	return func(d *Driver) { d.report = r }
}

// WithSleep replaces time.Sleep for the poll wait.
func WithSleep(sleep func(time.Duration)) Option {
	return func(d *Driver) { d.sleep = sleep }
}

// WithClock replaces time.Now for outcome timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// Driver is the per-process polling context. It is not safe for concurrent use.
type Driver struct {
	port   Port
	flags  *cancel.Flags
	cfg    Config
	log    zerolog.Logger
	report Reporter
	sleep  func(time.Duration)
	now    func() time.Time

	buf        FrameBuffer
	cycle      uint64
	stats      Stats
	stopLogged bool
	ran        bool
}

// New creates a Driver that takes ownership of port.
func New(port Port, flags *cancel.Flags, cfg Config, opts ...Option) (*Driver, error) {
	if port == nil {
		return nil, errors.New("driver: port required")
	}
	if flags == nil {
		return nil, errors.New("driver: cancel flags required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Driver{
		port:   port,
		flags:  flags,
		cfg:    cfg,
		log:    zerolog.Nop(),
		report: ReporterFunc(func(Outcome) {}),
		sleep:  time.Sleep,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Stats returns the outcome counters so far.
func (d *Driver) Stats() Stats {
	return d.stats
}

// Cycles returns the number of cycles started.
func (d *Driver) Cycles() uint64 {
	return d.cycle
}

// Run executes cycles until cancellation or a fatal I/O error. Every outcome,
// including the final cancellation, goes to the reporter. The port is closed
// exactly once before Run returns, whatever the reason.
func (d *Driver) Run() (err error) {
	if d.ran {
		return ErrAlreadyRun
	}
	d.ran = true

	defer func() {
		if cerr := d.port.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("driver: teardown: %w", cerr))
		}
		d.log.Info().Uint64("cycles", d.cycle).Msg("main loop done, device released")
	}()

	d.log.Info().Str("mode", d.cfg.Mode.String()).Msg("waiting for data")
	for {
		o, err := d.Cycle()
		if err != nil {
			return err
		}
		d.report.Report(o)
		if o.Kind == KindCancelled {
			return nil
		}
	}
}

// Cycle runs one query/response cycle. The error is non-nil only for fatal
// I/O failures; every other result is an Outcome.
func (d *Driver) Cycle() (Outcome, error) {
	o, err := d.runCycle()
	if err != nil {
		return Outcome{}, err
	}
	d.stats.count(o.Kind)
	return o, nil
}

func (d *Driver) runCycle() (Outcome, error) {
	d.cycle++

	if d.stopped() {
		return d.outcome(KindCancelled), nil
	}

	n, err := d.port.Write([]byte(Query))
	if d.stopped() {
		return d.outcome(KindCancelled), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("driver: write query: %w", err)
	}
	d.stats.BytesWritten += uint64(n)
	if n != len(Query) {
		d.log.Warn().Uint64("cycle", d.cycle).Int("bytes", n).Msg("short query write")
	} else {
		d.log.Debug().Uint64("cycle", d.cycle).Int("bytes", n).Msg("query written")
	}

	if d.cfg.Mode == Blocking {
		return d.accumulateBlocking()
	}
	return d.accumulatePolling()
}

// accumulatePolling reads without blocking, sleeping one poll interval
// whenever no line is ready, until the cycle deadline.
func (d *Driver) accumulatePolling() (Outcome, error) {
	d.buf.Reset()
	var elapsed time.Duration

	for {
		if d.stopped() {
			return d.outcome(KindCancelled), nil
		}

		n, err := d.port.ReadNonBlocking(d.buf.Tail())
		if err == nil && n == 0 {
			err = serial.ErrWouldBlock
		}
		if errors.Is(err, serial.ErrWouldBlock) {
			d.sleep(d.cfg.PollInterval)
			elapsed += d.cfg.PollInterval
			if elapsed >= d.cfg.CycleDeadline {
				o := d.outcome(KindTimedOut)
				o.Elapsed = elapsed
				o.Length = d.buf.Len()
				o.Raw = d.buf.Snapshot()
				return o, nil
			}
			continue
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("driver: read response: %w", err)
		}

		if o, done, err := d.absorb(n); done {
			return o, err
		}
	}
}

// accumulateBlocking suspends in the read. An interrupted read either ends
// the loop (stop), drops what was buffered and reads again without a new
// query (restart), or simply reads again.
func (d *Driver) accumulateBlocking() (Outcome, error) {
	d.buf.Reset()

	for {
		if d.stopped() {
			return d.outcome(KindCancelled), nil
		}

		n, err := d.port.ReadBlocking(d.buf.Tail())
		if errors.Is(err, serial.ErrInterrupted) {
			if d.stopped() {
				return d.outcome(KindCancelled), nil
			}
			if d.flags.TakeRestart() {
				d.stats.Restarts++
				d.log.Info().Uint64("cycle", d.cycle).Int("discarded", d.buf.Len()).Msg("read restarted")
				d.buf.Reset()
			}
			continue
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("driver: read response: %w", err)
		}

		if o, done, err := d.absorb(n); done {
			return o, err
		}
	}
}

// absorb commits n freshly read bytes and decides whether the cycle is over.
func (d *Driver) absorb(n int) (Outcome, bool, error) {
	if err := d.buf.Commit(n); err != nil {
		return Outcome{}, true, fmt.Errorf("driver: port returned %d bytes with %d free: %w",
			n, Capacity-d.buf.Len(), err)
	}
	if d.buf.LineComplete() {
		return d.complete(), true, nil
	}
	if d.buf.Full() {
		o := d.outcome(KindOverflowed)
		o.Length = d.buf.Len()
		o.Raw = d.buf.Snapshot()
		return o, true, nil
	}
	return Outcome{}, false, nil
}

func (d *Driver) complete() Outcome {
	raw := d.buf.Snapshot()
	reading, err := frame.Parse(d.buf.Line())
	if err != nil {
		o := d.outcome(KindMalformed)
		o.Raw = raw
		o.Length = len(raw)
		o.Err = err
		return o
	}
	o := d.outcome(KindReading)
	o.Reading = reading
	return o
}

func (d *Driver) outcome(k Kind) Outcome {
	return Outcome{Kind: k, Cycle: d.cycle, At: d.now()}
}

// stopped is the cancellation checkpoint. The first observation is logged
// here because the signal side must not log.
func (d *Driver) stopped() bool {
	if !d.flags.StopRequested() {
		return false
	}
	if !d.stopLogged {
		d.stopLogged = true
		d.log.Info().Uint64("cycle", d.cycle).Msg("stop requested, leaving main loop")
	}
	return true
}
