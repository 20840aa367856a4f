package sim

import (
	"io"
	"sync"
	"time"
)

// Port serves a Device's byte stream at a fixed frame rate through the
// io.ReadCloser interface expected of a serial port.
type Port struct {
	dev      *Device
	interval time.Duration
	ticker   *time.Ticker
	pending  []byte

	done      chan struct{}
	closeOnce sync.Once
}

// NewPort emits one frame every interval. Reads block until the next frame
// is due or the port is closed.
func NewPort(dev *Device, interval time.Duration) *Port {
	return &Port{
		dev:      dev,
		interval: interval,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
	}
}

// Read implements io.Reader. It must be called from a single goroutine.
func (p *Port) Read(b []byte) (int, error) {
	if len(p.pending) == 0 {
		select {
		case <-p.done:
			return 0, io.EOF
		case <-p.ticker.C:
			p.pending = p.dev.AppendNext(p.pending[:0])
		}
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// Close stops the generator and unblocks a pending Read.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.ticker.Stop()
	})
	return nil
}

// throttled paces reads from a capture file to a serial byte rate.
type throttled struct {
	r           io.ReadCloser
	bytesPerSec int
	chunk       int
}

// Replay wraps a capture so that it is delivered no faster than
// bytesPerSec, in reads of at most chunk bytes. At 250000 baud 8N1 the
// shield delivers 25000 bytes per second.
func Replay(r io.ReadCloser, bytesPerSec, chunk int) io.ReadCloser {
	if chunk <= 0 {
		chunk = 256
	}
	return &throttled{r: r, bytesPerSec: bytesPerSec, chunk: chunk}
}

func (t *throttled) Read(b []byte) (int, error) {
	if len(b) > t.chunk {
		b = b[:t.chunk]
	}
	n, err := t.r.Read(b)
	if n > 0 && t.bytesPerSec > 0 {
		time.Sleep(time.Duration(n) * time.Second / time.Duration(t.bytesPerSec))
	}
	return n, err
}

func (t *throttled) Close() error { return t.r.Close() }
