package serialmux

import (
	"errors"
	"io"
	"sync"
)

// ErrPortClosed is returned by TestableSerialPort reads after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestableSerialPort is an in-memory SerialPorter for tests. Each queued
// chunk is returned by exactly one Read (split only when the caller's buffer
// is smaller), so tests control chunk boundaries precisely.
type TestableSerialPort struct {
	mu     sync.Mutex
	cond   *sync.Cond
	chunks [][]byte
	eof    bool
	closed bool

	// ReadError is returned once by the next Read if set.
	ReadError error
	// CloseError is returned by Close if set.
	CloseError error

	reads int
}

// NewTestableSerialPort creates an empty port. Reads block until data is
// queued, EndOfStream is called or the port is closed.
func NewTestableSerialPort(chunks ...[]byte) *TestableSerialPort {
	p := &TestableSerialPort{}
	p.cond = sync.NewCond(&p.mu)
	for _, c := range chunks {
		p.AddReadData(c)
	}
	return p
}

// AddReadData queues a chunk for a subsequent Read.
func (p *TestableSerialPort) AddReadData(chunk []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = append(p.chunks, append([]byte(nil), chunk...))
	p.cond.Broadcast()
}

// EndOfStream makes Read return io.EOF once the queue drains, like a
// capture file reaching its end.
func (p *TestableSerialPort) EndOfStream() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eof = true
	p.cond.Broadcast()
}

func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++

	if p.ReadError != nil {
		err := p.ReadError
		p.ReadError = nil
		return 0, err
	}
	for len(p.chunks) == 0 && !p.closed && !p.eof {
		p.cond.Wait()
	}
	if p.closed {
		return 0, ErrPortClosed
	}
	if len(p.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.chunks[0])
	if n == len(p.chunks[0]) {
		p.chunks = p.chunks[1:]
	} else {
		p.chunks[0] = p.chunks[0][n:]
	}
	return n, nil
}

// Close marks the port closed and wakes blocked readers.
func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return p.CloseError
}

// Closed reports whether Close was called.
func (p *TestableSerialPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Reads returns the number of Read calls so far.
func (p *TestableSerialPort) Reads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}
