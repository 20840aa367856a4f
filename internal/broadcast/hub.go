// Package broadcast fans accepted records out to any number of live
// viewers. A viewer that cannot keep up loses records; the pipeline never
// waits for it.
package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/depth.report/internal/monitoring"
	"github.com/banshee-data/depth.report/internal/sonar/record"
)

// DefaultBuffer is the channel capacity given to a subscriber that does not
// ask for one.
const DefaultBuffer = 32

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("broadcast: hub closed")

var logf = monitoring.Component("broadcast")

// SubscriberStats counts deliveries to one subscriber.
type SubscriberStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// Stats is a snapshot of the hub counters.
type Stats struct {
	Published    uint64                     `json:"published"`
	Sent         uint64                     `json:"sent"`
	Dropped      uint64                     `json:"dropped"`
	Subscribers  map[string]SubscriberStats `json:"subscribers"`
	Unsubscribed uint64                     `json:"unsubscribed"`
}

type subscriber struct {
	ch      chan record.OutputRecord
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Hub is a pipeline sink that copies each record to every subscriber
// channel without blocking.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool

	published    atomic.Uint64
	sent         atomic.Uint64
	dropped      atomic.Uint64
	unsubscribed atomic.Uint64
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]*subscriber)}
}

// Subscribe registers a new viewer. The returned channel is closed by
// Unsubscribe or Close. buffer <= 0 selects DefaultBuffer.
func (h *Hub) Subscribe(buffer int) (string, <-chan record.OutputRecord, error) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", nil, ErrClosed
	}
	id := uuid.NewString()
	sub := &subscriber{ch: make(chan record.OutputRecord, buffer)}
	h.subs[id] = sub
	return id, sub.ch, nil
}

// Unsubscribe removes a viewer and closes its channel. Unknown IDs are
// ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.ch)
	h.unsubscribed.Add(1)
	if d := sub.dropped.Load(); d > 0 {
		logf("subscriber %s left after %d sent, %d dropped", id, sub.sent.Load(), d)
	}
}

// OnSample implements pipeline.Sink.
func (h *Hub) OnSample(r record.OutputRecord) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	h.published.Add(1)
	for _, sub := range h.subs {
		select {
		case sub.ch <- r:
			sub.sent.Add(1)
			h.sent.Add(1)
		default:
			// slow viewer: drop rather than stall the pipeline
			sub.dropped.Add(1)
			h.dropped.Add(1)
		}
	}
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats returns a snapshot of the global and per-subscriber counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := Stats{
		Published:    h.published.Load(),
		Sent:         h.sent.Load(),
		Dropped:      h.dropped.Load(),
		Unsubscribed: h.unsubscribed.Load(),
		Subscribers:  make(map[string]SubscriberStats, len(h.subs)),
	}
	for id, sub := range h.subs {
		st.Subscribers[id] = SubscriberStats{Sent: sub.sent.Load(), Dropped: sub.dropped.Load()}
	}
	return st
}

// Close closes every subscriber channel. Records published afterwards are
// ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
}
