package pipeline

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/depth.report/internal/gps"
	"github.com/banshee-data/depth.report/internal/sonar/l1frames"
	"github.com/banshee-data/depth.report/internal/sonar/l2echo"
	"github.com/banshee-data/depth.report/internal/sonar/l3track"
	"github.com/banshee-data/depth.report/internal/sonar/record"
	"github.com/banshee-data/depth.report/internal/timeutil"
)

// Stats is a snapshot of a channel's counters.
type Stats struct {
	l1frames.Stats
	FramesSeen     uint64 // Frames handed to the extractor
	LowConfidence  uint64 // Frames dropped below the quality threshold
	RecordsEmitted uint64 // Records delivered to the sink
}

// Sub returns the per-field difference s - prev.
func (s Stats) Sub(prev Stats) Stats {
	return Stats{
		Stats:          s.Stats.Sub(prev.Stats),
		FramesSeen:     s.FramesSeen - prev.FramesSeen,
		LowConfidence:  s.LowConfidence - prev.LowConfidence,
		RecordsEmitted: s.RecordsEmitted - prev.RecordsEmitted,
	}
}

// Option configures optional Channel collaborators.
type Option func(*Channel)

// WithSink sets the record sink. The default discards records.
func WithSink(s Sink) Option {
	return func(c *Channel) {
		if s != nil {
			c.sink = s
		}
	}
}

// WithFixProvider attaches a location source to every record.
func WithFixProvider(p gps.Provider) Option {
	return func(c *Channel) { c.fixes = p }
}

// WithFrameObserver registers a per-frame observer for debug displays.
func WithFrameObserver(o FrameObserver) Option {
	return func(c *Channel) { c.observer = o }
}

// WithStatsObserver registers a receiver for per-Ingest counter deltas.
func WithStatsObserver(o StatsObserver) Option {
	return func(c *Channel) { c.statsObserver = o }
}

// WithClock overrides the wall clock used for record timestamps.
func WithClock(clock timeutil.Clock) Option {
	return func(c *Channel) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithSessionID overrides the generated session identifier.
func WithSessionID(id string) Option {
	return func(c *Channel) {
		if id != "" {
			c.sessionID = id
		}
	}
}

// Channel is the processing state of one physical sensor.
//
// Ingest calls are serialised: the decoder buffer, smoother and consistency
// window are order dependent.
type Channel struct {
	cfg       Config
	sessionID string

	decoder   *l1frames.Decoder
	extractor *l2echo.Extractor
	smoother  *l3track.Smoother
	tracker   *l3track.ConsistencyTracker

	sink          Sink
	fixes         gps.Provider
	observer      FrameObserver
	statsObserver StatsObserver
	clock         timeutil.Clock

	mu             sync.Mutex
	latest         record.OutputRecord
	hasLatest      bool
	framesSeen     uint64
	lowConfidence  uint64
	recordsEmitted uint64
	reported       Stats
}

// NewChannel validates cfg and builds every stage. Any invalid constant
// fails with an error wrapping ErrConfiguration before a byte is accepted.
func NewChannel(cfg Config, opts ...Option) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	decoder, err := l1frames.NewDecoder(cfg.Layout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	extractor, err := l2echo.NewExtractor(cfg.Echo)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	smoother, err := l3track.NewSmoother(cfg.Alpha)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	tracker, err := l3track.NewConsistencyTracker(cfg.Consistency)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	c := &Channel{
		cfg:       cfg,
		sessionID: uuid.NewString(),
		decoder:   decoder,
		extractor: extractor,
		smoother:  smoother,
		tracker:   tracker,
		sink:      discardSink{},
		clock:     timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	diagf("channel %s ready: session=%s frame_size=%d alpha=%.3f quality_min=%d",
		cfg.Channel, c.sessionID, cfg.Layout.FrameSize(), cfg.Alpha, cfg.QualityMin)
	return c, nil
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.cfg.Channel }

// SessionID returns the identifier stamped on every record of this run.
func (c *Channel) SessionID() string { return c.sessionID }

// Config returns the validated configuration.
func (c *Channel) Config() Config { return c.cfg }

// Ingest feeds a chunk of raw serial bytes through every stage and returns
// the number of records delivered to the sink. Malformed input is absorbed
// into counters; Ingest never fails.
func (c *Channel) Ingest(chunk []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	emitted := 0
	for f := range c.decoder.Ingest(chunk) {
		if c.process(f) {
			emitted++
		}
	}
	c.reportStats()
	return emitted
}

// process runs one frame through extraction, consistency and smoothing.
// Called with c.mu held.
func (c *Channel) process(f l1frames.Frame) bool {
	now := c.clock.Now().UTC()
	c.framesSeen++

	refl := c.extractor.Extract(f.Samples)
	consistent := c.tracker.Update(f.Samples)
	res := FrameResult{
		Timestamp:  now,
		Frame:      f,
		Reflection: refl,
		Consistent: consistent,
	}

	if refl.Value < c.cfg.QualityMin {
		c.lowConfidence++
		res.SmoothedCm, _ = c.smoother.Last()
		tracef("%s: low confidence value=%d index=%d", c.cfg.Channel, refl.Value, refl.Index)
		c.observe(res)
		return false
	}

	smoothed := c.smoother.Smooth(refl.DistanceCm)
	rec := record.OutputRecord{
		Timestamp:          now,
		Channel:            c.cfg.Channel,
		SessionID:          c.sessionID,
		Reflection:         refl,
		SmoothedDistanceCm: smoothed,
		RawDistanceCm:      refl.DistanceCm,
		Metadata:           f.Metadata,
		Consistent:         consistent,
	}
	if c.fixes != nil {
		if fix, ok := c.fixes.CurrentFix(); ok {
			rec.Fix = &fix
		}
	}
	c.latest = rec
	c.hasLatest = true
	c.recordsEmitted++
	tracef("%s: index=%d value=%d raw=%.1fcm smoothed=%.1fcm", c.cfg.Channel, refl.Index, refl.Value, refl.DistanceCm, smoothed)

	c.sink.OnSample(rec)

	res.Accepted = true
	res.SmoothedCm = smoothed
	c.observe(res)
	return true
}

func (c *Channel) observe(res FrameResult) {
	if c.observer != nil {
		c.observer.ObserveFrame(res)
	}
}

// reportStats pushes counter deltas since the previous call. Called with
// c.mu held.
func (c *Channel) reportStats() {
	now := c.statsLocked()
	delta := now.Sub(c.reported)
	c.reported = now

	if delta.BytesDiscarded >= uint64(c.cfg.Layout.FrameSize()) {
		opsf("%s: discarded %d bytes (%d checksum failures) in one read; check baud rate and frame layout",
			c.cfg.Channel, delta.BytesDiscarded, delta.ChecksumFailures)
	} else if delta.ChecksumFailures > 0 {
		diagf("%s: %d checksum failures", c.cfg.Channel, delta.ChecksumFailures)
	}
	if c.statsObserver != nil {
		c.statsObserver.ObserveStats(c.cfg.Channel, delta)
	}
}

// Latest returns the most recent record delivered to the sink.
func (c *Channel) Latest() (record.OutputRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest, c.hasLatest
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *Channel) statsLocked() Stats {
	return Stats{
		Stats:          c.decoder.Stats(),
		FramesSeen:     c.framesSeen,
		LowConfidence:  c.lowConfidence,
		RecordsEmitted: c.recordsEmitted,
	}
}
