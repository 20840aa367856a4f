// Serialmux provides an abstraction over a serial port that delivers raw
// byte chunks, in arrival order, to a single handler while letting any number
// of debug clients tail the same stream.
package serialmux

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/depth.report/internal/httputil"
)

const (
	DefaultReadSize         = 512
	DefaultSubscriberBuffer = 16
)

// Stats counts what the mux has read and what slow tail clients missed.
type Stats struct {
	Reads           uint64 `json:"reads"`
	BytesRead       uint64 `json:"bytes_read"`
	SubscriberDrops uint64 `json:"subscriber_drops"`
	Subscribers     int    `json:"subscribers"`
}

// SerialMux reads a serial port, offers a copy of every chunk to its
// subscribers and hands the chunk itself to the Monitor handler.
type SerialMux[T SerialPorter] struct {
	port       T
	readSize   int
	subBuffer  int
	subscriber sync.Mutex
	subs       map[string]chan []byte
	closing    atomic.Bool

	reads     atomic.Uint64
	bytesRead atomic.Uint64
	drops     atomic.Uint64
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel receiving copies of raw chunks. The ID
	// is used to unsubscribe.
	Subscribe() (string, chan []byte)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// Monitor reads the port until ctx ends or the port is exhausted,
	// calling handle for each chunk in arrival order.
	Monitor(ctx context.Context, handle func([]byte)) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error
	// Stats returns the read and fan-out counters.
	Stats() Stats

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// Option configures a SerialMux.
type Option func(*muxOptions)

type muxOptions struct {
	readSize  int
	subBuffer int
}

// WithReadSize sets the maximum chunk read from the port at once.
func WithReadSize(n int) Option {
	return func(o *muxOptions) {
		if n > 0 {
			o.readSize = n
		}
	}
}

// WithSubscriberBuffer sets the channel capacity of each subscriber.
func WithSubscriberBuffer(n int) Option {
	return func(o *muxOptions) {
		if n >= 0 {
			o.subBuffer = n
		}
	}
}

// NewSerialMux creates a SerialMux over an already opened port.
func NewSerialMux[T SerialPorter](port T, opts ...Option) *SerialMux[T] {
	o := muxOptions{readSize: DefaultReadSize, subBuffer: DefaultSubscriberBuffer}
	for _, opt := range opts {
		opt(&o)
	}
	return &SerialMux[T]{
		port:      port,
		readSize:  o.readSize,
		subBuffer: o.subBuffer,
		subs:      make(map[string]chan []byte),
	}
}

func (s *SerialMux[T]) Subscribe() (string, chan []byte) {
	id := uuid.NewString()
	ch := make(chan []byte, s.subBuffer)
	s.subscriber.Lock()
	defer s.subscriber.Unlock()
	if s.closing.Load() {
		close(ch)
		return id, ch
	}
	s.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriber.Lock()
	defer s.subscriber.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

type readResult struct {
	chunk []byte
	err   error
}

// Monitor reads the port and calls handle with each chunk, synchronously and
// in arrival order. Chunks are then offered to subscribers without blocking.
// handle owns the chunk it is given. A clean end of stream returns nil.
func (s *SerialMux[T]) Monitor(ctx context.Context, handle func([]byte)) error {
	results := make(chan readResult)

	// The blocking Read must not hold up context cancellation, so it runs
	// on its own goroutine. Closing the port unblocks it.
	go func() {
		defer close(results)
		for {
			buf := make([]byte, s.readSize)
			n, err := s.port.Read(buf)
			if n > 0 {
				select {
				case results <- readResult{chunk: buf[:n]}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				select {
				case results <- readResult{err: err}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case res, ok := <-results:
			if !ok {
				return ctx.Err()
			}
			if res.err != nil {
				if errors.Is(res.err, io.EOF) || s.closing.Load() {
					return nil
				}
				return fmt.Errorf("serial read: %w", res.err)
			}
			if s.closing.Load() {
				return nil
			}
			s.reads.Add(1)
			s.bytesRead.Add(uint64(len(res.chunk)))

			s.fanOut(res.chunk)
			if handle != nil {
				handle(res.chunk)
			}
		}
	}
}

// fanOut gives each subscriber its own copy so the handler may retain the
// original.
func (s *SerialMux[T]) fanOut(chunk []byte) {
	s.subscriber.Lock()
	defer s.subscriber.Unlock()
	if len(s.subs) == 0 {
		return
	}
	cp := append([]byte(nil), chunk...)
	for _, ch := range s.subs {
		select {
		case ch <- cp:
		default:
			// if the channel is full/blocking skip so as not to block the reader
			s.drops.Add(1)
		}
	}
}

// Stats returns the read and fan-out counters.
func (s *SerialMux[T]) Stats() Stats {
	s.subscriber.Lock()
	n := len(s.subs)
	s.subscriber.Unlock()
	return Stats{
		Reads:           s.reads.Load(),
		BytesRead:       s.bytesRead.Load(),
		SubscriberDrops: s.drops.Load(),
		Subscribers:     n,
	}
}

func (s *SerialMux[T]) Close() error {
	if s.closing.Swap(true) {
		return nil
	}

	s.subscriber.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subscriber.Unlock()
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachTailRoutes(mux, s)
}

// attachTailRoutes registers the stats page and the SSE hex tail shared by
// every SerialMuxInterface implementation.
func attachTailRoutes(mux *http.ServeMux, m SerialMuxInterface) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("serial-stats", "serial port read counters", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, m.Stats())
	})

	// Server-Sent Events, one hex-encoded chunk per event.
	debug.HandleSilentFunc("serial-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := m.Subscribe()
		defer m.Unsubscribe(id)

		// Send initial ping to establish connection
		io.WriteString(w, ": ping\n\n")
		flusher.Flush()

		for {
			select {
			case chunk, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", hex.EncodeToString(chunk)); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
