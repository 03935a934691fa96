package cancel

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// Waker is something blocked on I/O that can be nudged awake,
// such as a serial port suspended in a blocking read.
type Waker interface {
	Interrupt() error
}

// StopSignals request a full shutdown.
var StopSignals = []os.Signal{unix.SIGINT, unix.SIGTERM}

// RestartSignal requests that the current read be abandoned.
var RestartSignal os.Signal = unix.SIGUSR1

// Notify routes StopSignals and RestartSignal into flags and wakes every
// waker after each delivery. The returned function unregisters the handlers;
// it is safe to call more than once.
func Notify(flags *Flags, wakers ...Waker) (stop func()) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, append(StopSignals, RestartSignal)...)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				if sig == RestartSignal {
					flags.RequestRestart()
				} else {
					flags.RequestStop()
				}
				for _, w := range wakers {
					// nothing useful to do with a failed wake-up here;
					// the loop still sees the flag at its next checkpoint
					_ = w.Interrupt()
				}
			}
		}
	}()

	stopped := false
	return func() {
		if stopped {
			return
		}
		stopped = true
		signal.Stop(ch)
		close(done)
	}
}
