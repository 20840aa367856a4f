package serialmux

import "io"

// SerialPorter defines the minimal interface needed for a serial port. The
// sounder only listens, so a port is anything that can be read and closed:
// a real tty, the synthetic device or a capture replay.
type SerialPorter interface {
	io.Reader
	io.Closer
}
