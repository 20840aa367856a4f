// Package network pushes compact records to a UDP listener.
package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/depth.report/internal/monitoring"
	"github.com/banshee-data/depth.report/internal/sonar/record"
	"github.com/banshee-data/depth.report/internal/timeutil"
)

const (
	DefaultQueueSize   = 256
	DefaultLogInterval = 10 * time.Second
)

var logf = monitoring.Component("forward")

// Stats counts datagrams by outcome.
type Stats struct {
	Queued      uint64 `json:"queued"`
	Sent        uint64 `json:"sent"`
	QueueDrops  uint64 `json:"queue_drops"`
	WriteErrors uint64 `json:"write_errors"`
}

// RecordForwarder sends each record as one 13-byte extended compact datagram.
// OnSample only enqueues; a full queue drops the record.
type RecordForwarder struct {
	conn        *net.UDPConn
	queue       chan []byte
	clock       timeutil.Clock
	logInterval time.Duration
	address     string

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	queued      atomic.Uint64
	sent        atomic.Uint64
	queueDrops  atomic.Uint64
	writeErrors atomic.Uint64
}

// Option configures a RecordForwarder.
type Option func(*RecordForwarder)

// WithQueueSize sets the number of datagrams held while the writer is busy.
func WithQueueSize(n int) Option {
	return func(f *RecordForwarder) {
		if n > 0 {
			f.queue = make(chan []byte, n)
		}
	}
}

// WithLogInterval sets how often write failures are summarised.
func WithLogInterval(d time.Duration) Option {
	return func(f *RecordForwarder) {
		if d > 0 {
			f.logInterval = d
		}
	}
}

// WithClock overrides the clock driving the failure summary ticker.
func WithClock(c timeutil.Clock) Option {
	return func(f *RecordForwarder) {
		if c != nil {
			f.clock = c
		}
	}
}

// NewRecordForwarder dials addr ("host:port") over UDP.
func NewRecordForwarder(addr string, opts ...Option) (*RecordForwarder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	f := &RecordForwarder{
		conn:        conn,
		queue:       make(chan []byte, DefaultQueueSize),
		clock:       timeutil.RealClock{},
		logInterval: DefaultLogInterval,
		address:     udpAddr.String(),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Address returns the resolved destination.
func (f *RecordForwarder) Address() string { return f.address }

// Start runs the writer goroutine until ctx ends or Close is called.
func (f *RecordForwarder) Start(ctx context.Context) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		failed := 0
		var lastErr error
		ticker := f.clock.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.stop:
				return
			case pkt := <-f.queue:
				if _, err := f.conn.Write(pkt); err != nil {
					f.writeErrors.Add(1)
					failed++
					lastErr = err
					continue
				}
				f.sent.Add(1)
			case <-ticker.C():
				if failed > 0 {
					logf("\033[93mdropped %d forwarded records due to errors (latest: %v)\033[0m", failed, lastErr)
					failed = 0
					lastErr = nil
				}
			}
		}
	}()
	logf("forwarding records to %s", f.address)
}

// OnSample implements pipeline.Sink.
func (f *RecordForwarder) OnSample(r record.OutputRecord) {
	pkt := r.AppendExtended(make([]byte, 0, record.ExtendedSize))
	select {
	case f.queue <- pkt:
		f.queued.Add(1)
	default:
		f.queueDrops.Add(1)
	}
}

// Stats returns the forwarding counters.
func (f *RecordForwarder) Stats() Stats {
	return Stats{
		Queued:      f.queued.Load(),
		Sent:        f.sent.Load(),
		QueueDrops:  f.queueDrops.Load(),
		WriteErrors: f.writeErrors.Load(),
	}
}

// Close stops the writer and closes the socket. Queued datagrams are
// abandoned.
func (f *RecordForwarder) Close() error {
	f.stopOnce.Do(func() { close(f.stop) })
	f.wg.Wait()
	return f.conn.Close()
}
