package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"go.bug.st/serial"

	"github.com/banshee-data/depth.report/internal/monitoring"
)

// DefaultBaudRate is the NMEA 0183 standard rate used by most USB receivers.
const DefaultBaudRate = 9600

var logf = monitoring.Component("gps")

// OpenNMEA opens a GNSS receiver on a serial port.
func OpenNMEA(path string, baud int) (io.ReadCloser, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(path, &serial.Mode{BaudRate: baud, DataBits: 8, StopBits: serial.OneStopBit, Parity: serial.NoParity})
	if err != nil {
		return nil, fmt.Errorf("open gps port %s: %w", path, err)
	}
	return port, nil
}

// Run feeds lines from r to the tracker until ctx is cancelled or r ends.
func (t *Tracker) Run(ctx context.Context, r io.Reader) error {
	scan := bufio.NewScanner(r)
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scan.Err()
	}()

	var fixes int
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read nmea: %w", err)
					}
					return nil
				default:
					return ctx.Err()
				}
			}
			if t.HandleSentence(line) {
				fixes++
				if fixes == 1 {
					fix, _ := t.CurrentFix()
					logf("first fix: %.6f, %.6f", fix.Lat, fix.Lon)
				}
			}
		}
	}
}
