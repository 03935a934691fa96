// Package serial provides a minimal, Linux-only serial channel for
// line-oriented request/response sensors.
//
// The device is put into canonical (line-buffered) mode at 9600 baud, 8 data
// bits, with carriage returns dropped by the line discipline, so a read only
// ever returns bytes of a line the kernel has already completed. The prior
// terminal configuration is captured at Open and restored by Close.
//
// Features:
//   - Raw syscall-based I/O on Linux, no buffering between the kernel and the caller
//   - Non-blocking reads that report ErrWouldBlock instead of suspending
//   - Blocking reads that can be woken with Interrupt (self-pipe)
//   - Exactly-once restore of the saved termios on Close
//   - PTY-based tests for reliability
//
// This package does **not** support Windows.
//
// Example usage:
//
//	port, err := serial.Open("/dev/ttyUSB0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	if _, err := port.Write([]byte("get")); err != nil {
//	    log.Fatal(err)
//	}
//
//	buf := make([]byte, 50)
//	for {
//	    n, err := port.ReadNonBlocking(buf)
//	    if errors.Is(err, serial.ErrWouldBlock) {
//	        time.Sleep(20 * time.Millisecond)
//	        continue
//	    }
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Printf("Received: %q\n", buf[:n])
//	    break
//	}
//
// The polling loop above, with its timeout and buffer limits, is what package
// driver implements.
package serial
