package pipeline

import (
	"time"

	"github.com/banshee-data/depth.report/internal/sonar/l1frames"
	"github.com/banshee-data/depth.report/internal/sonar/l2echo"
	"github.com/banshee-data/depth.report/internal/sonar/record"
)

// Sink receives one record per accepted frame. OnSample is called
// synchronously from Ingest and must not block: delivery, buffering and
// retry are the sink's own concern.
type Sink interface {
	OnSample(record.OutputRecord)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(record.OutputRecord)

// OnSample calls f(r).
func (f SinkFunc) OnSample(r record.OutputRecord) { f(r) }

// MultiSink delivers each record to every sink in order.
type MultiSink []Sink

// OnSample forwards r to each non-nil sink.
func (m MultiSink) OnSample(r record.OutputRecord) {
	for _, s := range m {
		if s != nil {
			s.OnSample(r)
		}
	}
}

type discardSink struct{}

func (discardSink) OnSample(record.OutputRecord) {}

// FrameResult describes what the pipeline made of one decoded frame,
// accepted or not. Frame.Samples and Consistent are shared and must be
// treated as read-only.
type FrameResult struct {
	Timestamp  time.Time
	Frame      l1frames.Frame
	Reflection l2echo.Reflection
	Consistent []int
	Accepted   bool    // passed the quality threshold and reached the sink
	SmoothedCm float64 // smoother output, or the previous value when rejected
}

// FrameObserver sees every decoded frame. Used by debug displays that need
// the raw samples; like Sink it must not block.
type FrameObserver interface {
	ObserveFrame(FrameResult)
}

// FrameObserverFunc adapts a function to the FrameObserver interface.
type FrameObserverFunc func(FrameResult)

// ObserveFrame calls f(res).
func (f FrameObserverFunc) ObserveFrame(res FrameResult) { f(res) }

// StatsObserver receives counter deltas after each Ingest call.
type StatsObserver interface {
	ObserveStats(channel string, delta Stats)
}
