// Package serial provides the minimal, Linux-only serial device layer used
// by serialsnoop to tap a pair of RS-232 links.
//
// A Port is opened non-blocking and without controlling-terminal
// semantics, configured once into raw mode with the line parameters of the
// links under observation, and then driven byte by byte from a readiness
// loop (see package snoop).
//
// Features:
//   - Raw syscall-based serial I/O on Linux, no buffering delays
//   - Single-byte non-blocking ReadByte/WriteByte with ErrWouldBlock
//   - Compact port-parameter strings ("9600N81", default "1200E71")
//   - Hardware flow control always disabled
//   - PTY-based tests for reliability
//
// This package does **not** support Windows.
//
// Example usage:
//
//	params, err := serial.ParseParams("9600N81")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	port, err := serial.Open("/dev/ttyUSB0", serial.ReadOnly)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//	if err := port.Configure(params); err != nil {
//	    log.Fatal(err)
//	}
//
//	for {
//	    c, err := port.ReadByte()
//	    if errors.Is(err, serial.ErrWouldBlock) {
//	        break // poll the descriptor again
//	    }
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Printf("0x%02x\n", c)
//	}
package serial
