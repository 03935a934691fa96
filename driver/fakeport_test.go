package driver

import (
	"bytes"
	"errors"
	"time"

	serial "github.com/luhtfiimanal/go-sensor-termio"
)

var errScriptExhausted = errors.New("fake port: read script exhausted")

// step is one scripted read result. hook runs before the result is returned.
type step struct {
	data []byte
	err  error
	hook func()
}

func data(s string) step { return step{data: []byte(s)} }
func wouldBlock() step { return step{err: serial.ErrWouldBlock} }
func interrupted(hook func()) step { return step{err: serial.ErrInterrupted, hook: hook} }

// fakePort implements Port with scripted reads and recorded writes.
// Like a canonical tty, bytes that do not fit into a read stay queued.
type fakePort struct {
	reads []step

	// exhausted is returned once the script runs out; defaults to
	// ErrWouldBlock for non-blocking reads and errScriptExhausted otherwise.
	exhausted error

	written    bytes.Buffer
	writeCalls int
	writeErr   error
	writeHook  func()

	readCalls     int
	blockingCalls int

	closeCalls int
	closeErr   error
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.writeCalls++
	if f.writeHook != nil {
		f.writeHook()
	}
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.written.Write(p)
}

func (f *fakePort) ReadNonBlocking(p []byte) (int, error) {
	f.readCalls++
	return f.next(p, serial.ErrWouldBlock)
}

func (f *fakePort) ReadBlocking(p []byte) (int, error) {
	f.blockingCalls++
	return f.next(p, errScriptExhausted)
}

func (f *fakePort) next(p []byte, whenEmpty error) (int, error) {
	if len(f.reads) == 0 {
		if f.exhausted != nil {
			return 0, f.exhausted
		}
		return 0, whenEmpty
	}
	s := f.reads[0]
	f.reads = f.reads[1:]
	if s.hook != nil {
		s.hook()
	}
	if s.err != nil {
		return 0, s.err
	}
	n := copy(p, s.data)
	if n < len(s.data) {
		f.reads = append([]step{{data: s.data[n:]}}, f.reads...)
	}
	return n, nil
}

func (f *fakePort) Close() error {
	f.closeCalls++
	return f.closeErr
}

// sleepRecorder replaces time.Sleep and runs an optional hook after each call.
type sleepRecorder struct {
	calls []time.Duration
	hook  func(n int)
}

func (s *sleepRecorder) sleep(d time.Duration) {
	s.calls = append(s.calls, d)
	if s.hook != nil {
		s.hook(len(s.calls))
	}
}

func (s *sleepRecorder) total() time.Duration {
	var t time.Duration
	for _, d := range s.calls {
		t += d
	}
	return t
}
