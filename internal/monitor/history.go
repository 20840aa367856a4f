// Package monitor keeps a short history of decoded frames and renders it
// for the debug pages: a waterfall echogram, a depth chart and a text
// console that highlights consistent reflections.
package monitor

import (
	"sync"

	"github.com/banshee-data/depth.report/internal/sonar/pipeline"
)

// DefaultHistoryFrames is the number of frames kept when none is configured.
const DefaultHistoryFrames = 200

// History is a fixed-size ring of recent frame results. It implements
// pipeline.FrameObserver.
type History struct {
	mu    sync.RWMutex
	buf   []pipeline.FrameResult
	next  int
	count int
	total uint64
}

// NewHistory returns a ring holding the last size frames.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistoryFrames
	}
	return &History{buf: make([]pipeline.FrameResult, size)}
}

// ObserveFrame records res, evicting the oldest entry when full. Samples are
// not copied: decoded frames are never mutated after they are produced.
func (h *History) ObserveFrame(res pipeline.FrameResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = res
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
	h.total++
}

// Snapshot returns the held frames, oldest first.
func (h *History) Snapshot() []pipeline.FrameResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]pipeline.FrameResult, 0, h.count)
	start := (h.next - h.count + len(h.buf)) % len(h.buf)
	for i := range h.count {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}

// Latest returns the most recent frame.
func (h *History) Latest() (pipeline.FrameResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return pipeline.FrameResult{}, false
	}
	return h.buf[(h.next-1+len(h.buf))%len(h.buf)], true
}

// Len returns the number of frames held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Total returns the number of frames ever observed.
func (h *History) Total() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}
