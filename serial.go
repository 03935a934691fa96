package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// BaudRate is the fixed line speed of the sensor, applied as unix.B9600.
const BaudRate = 9600

var (
	// ErrOpen is returned when the device path cannot be opened.
	ErrOpen = errors.New("serial: open failed")
	// ErrConfig is returned when the line discipline cannot be captured or applied.
	ErrConfig = errors.New("serial: configure failed")
	// ErrWouldBlock reports that no complete line is available yet.
	ErrWouldBlock = errors.New("serial: no complete line available")
	// ErrInterrupted reports that a blocking read was woken by Interrupt.
	ErrInterrupted = errors.New("serial: read interrupted")
	// ErrClosed is returned by operations on a closed Port.
	ErrClosed = errors.New("serial: port closed")
)

// Port is a duplex, line-buffered connection to a serial device.
// The termios configuration found at Open is restored by Close.
type Port struct {
	path      string
	fd        int
	saved     unix.Termios
	pipeR     int // self-pipe read fd
	pipeW     int // self-pipe write fd
	closeOnce sync.Once
	closed    atomic.Bool

	// pipeMu keeps Close from releasing the pipe under a concurrent Interrupt.
	pipeMu sync.RWMutex
}

// Open opens the device at path and switches it to canonical mode,
// 8 data bits, 9600 baud, ignoring carriage returns on input.
func Open(path string) (*Port, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, path, err)
	}

	saved, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: save termios (%s): %w", ErrConfig, path, err)
	}

	if err := unix.IoctlSetTermios(fd, unix.TCSETSF, canonicalTermios()); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: set termios (%s): %w", ErrConfig, path, err)
	}

	// Self-pipe so a blocked poll can be woken up
	pipeFds := make([]int, 2)
	if err := unix.Pipe2(pipeFds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.IoctlSetTermios(fd, unix.TCSETSF, saved)
		unix.Close(fd)
		return nil, fmt.Errorf("%w: pipe: %w", ErrConfig, err)
	}

	return &Port{
		path:  path,
		fd:    fd,
		saved: *saved,
		pipeR: pipeFds[0],
		pipeW: pipeFds[1],
	}, nil
}

// canonicalTermios builds the line discipline from a zeroed struct so that no
// special characters, echo or signal generation survive from the old setup.
func canonicalTermios() *unix.Termios {
	var t unix.Termios
	t.Iflag = unix.IGNCR
	t.Oflag = 0
	t.Cflag = unix.CS8 | unix.CREAD | unix.B9600
	t.Lflag = unix.ICANON
	t.Ispeed = unix.B9600
	t.Ospeed = unix.B9600
	return &t
}

// Path returns the device path given to Open.
func (p *Port) Path() string {
	return p.path
}

// Write writes b to the device and returns the raw byte count.
func (p *Port) Write(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Write(p.fd, b)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("serial: write %s: %w", p.path, err)
		}
		return n, nil
	}
}

// ReadNonBlocking reads at most len(b) bytes of an already completed line.
// It returns ErrWouldBlock when the line discipline has nothing to hand out.
func (p *Port) ReadNonBlocking(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Read(p.fd, b)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, fmt.Errorf("serial: read %s: %w", p.path, err)
		case n == 0 && len(b) > 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

// ReadBlocking waits until a line is available and reads at most len(b) bytes of it.
// A concurrent Interrupt makes it return ErrInterrupted.
func (p *Port) ReadBlocking(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	for {
		// Use poll to wait for data or a wake-up
		pfd := []unix.PollFd{
			{Fd: int32(p.fd), Events: unix.POLLIN},
			{Fd: int32(p.pipeR), Events: unix.POLLIN},
		}
		_, err := unix.Poll(pfd, -1)
		if err == unix.EINTR {
			// runtime preemption signals land here too
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("serial: poll %s: %w", p.path, err)
		}
		if pfd[1].Revents&unix.POLLIN != 0 {
			p.drainWake()
			return 0, ErrInterrupted
		}
		if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			n, err := p.ReadNonBlocking(b)
			if errors.Is(err, ErrWouldBlock) {
				continue
			}
			return n, err
		}
	}
}

// Interrupt wakes a goroutine blocked in ReadBlocking.
// It is safe to call from any goroutine, including while Close runs, and
// never waits on I/O.
func (p *Port) Interrupt() error {
	p.pipeMu.RLock()
	defer p.pipeMu.RUnlock()
	if p.closed.Load() {
		return nil
	}
	_, err := unix.Write(p.pipeW, []byte{1})
	if err == unix.EAGAIN {
		// a wake-up is already pending
		return nil
	}
	return err
}

func (p *Port) drainWake() {
	var b [16]byte
	for {
		n, err := unix.Read(p.pipeR, b[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Close restores the saved termios configuration and releases the device.
// Only the first call has any effect.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.pipeMu.Lock()
		defer p.pipeMu.Unlock()
		p.closed.Store(true)
		if rerr := unix.IoctlSetTermios(p.fd, unix.TCSETSF, &p.saved); rerr != nil {
			err = fmt.Errorf("%w: restore termios (%s): %w", ErrConfig, p.path, rerr)
		}
		if cerr := unix.Close(p.fd); cerr != nil {
			err = errors.Join(err, fmt.Errorf("serial: close %s: %w", p.path, cerr))
		}
		unix.Close(p.pipeR)
		unix.Close(p.pipeW)
	})
	return err
}
