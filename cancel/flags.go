// Package cancel carries shutdown and read-restart requests from asynchronous
// signal delivery to the polling loop.
//
// The only state shared between the two sides is a pair of single-word
// atomic flags. The signal side never logs, allocates per signal, or touches
// the device; it sets a flag and wakes blocked readers. The loop observes the
// flags at fixed checkpoints.
package cancel

import "go.uber.org/atomic"

// Flags holds the process-wide cancellation bits. The zero value is ready to use.
type Flags struct {
	stop    atomic.Bool
	restart atomic.Bool
}

// RequestStop asks the loop for a full shutdown.
func (f *Flags) RequestStop() {
	f.stop.Store(true)
}

// StopRequested reports whether shutdown was requested.
func (f *Flags) StopRequested() bool {
	return f.stop.Load()
}

// RequestRestart asks the loop to abandon the current read only.
func (f *Flags) RequestRestart() {
	f.restart.Store(true)
}

// RestartRequested reports whether a read restart is pending without consuming it.
func (f *Flags) RestartRequested() bool {
	return f.restart.Load()
}

// TakeRestart consumes a pending read restart.
func (f *Flags) TakeRestart() bool {
	return f.restart.Swap(false)
}
