package pipeline

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/depth.report/internal/gps"
	"github.com/banshee-data/depth.report/internal/sonar/l1frames"
	"github.com/banshee-data/depth.report/internal/sonar/record"
	"github.com/banshee-data/depth.report/internal/timeutil"
)

var testEpoch = time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

// frameBytes encodes a frame of background 10 with the given peaks.
func frameBytes(layout l1frames.Layout, peaks map[int]uint16) []byte {
	s := make([]uint16, layout.NumSamples)
	for i := range s {
		s[i] = 10
	}
	for i, v := range peaks {
		s[i] = v
	}
	return layout.AppendFrame(nil, l1frames.Frame{Samples: s})
}

type collector struct {
	records []record.OutputRecord
}

func (c *collector) OnSample(r record.OutputRecord) { c.records = append(c.records, r) }

func newTestChannel(t *testing.T, opts ...Option) (*Channel, *collector) {
	t.Helper()
	sink := &collector{}
	opts = append([]Option{
		WithSink(sink),
		WithClock(timeutil.NewMockClock(testEpoch)),
		WithSessionID("test-session"),
	}, opts...)
	ch, err := NewChannel(DefaultConfig("sonar0"), opts...)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	return ch, sink
}

func TestNewChannel_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty channel", func(c *Config) { c.Channel = "" }},
		{"zero samples", func(c *Config) { c.Layout.NumSamples = 0 }},
		{"three byte samples", func(c *Config) { c.Layout.SampleWidth = 3 }},
		{"zero cm per sample", func(c *Config) { c.Echo.CmPerSample = 0 }},
		{"zero noise tail", func(c *Config) { c.Echo.NoiseTail = 0 }},
		{"zero window", func(c *Config) { c.Consistency.Window = 0 }},
		{"zero alpha", func(c *Config) { c.Alpha = 0 }},
		{"alpha above one", func(c *Config) { c.Alpha = 1.5 }},
		{"zero quality", func(c *Config) { c.QualityMin = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("sonar0")
			tt.mutate(&cfg)
			_, err := NewChannel(cfg)
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("NewChannel err = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestChannel_EndToEndFrame(t *testing.T) {
	ch, sink := newTestChannel(t)
	layout := ch.Config().Layout

	// All-zero metadata, background 10, one peak of 200 at index 500.
	raw := frameBytes(layout, map[int]uint16{500: 200})
	if len(raw) != 1808 {
		t.Fatalf("len(raw) = %d, want 1808", len(raw))
	}
	if n := ch.Ingest(raw); n != 1 {
		t.Fatalf("Ingest emitted %d records, want 1", n)
	}
	if len(sink.records) != 1 {
		t.Fatalf("sink got %d records, want 1", len(sink.records))
	}
	r := sink.records[0]
	if r.Reflection.Index != 500 || r.Reflection.Value != 200 {
		t.Errorf("reflection index=%d value=%d, want 500 and 200", r.Reflection.Index, r.Reflection.Value)
	}
	if math.Abs(r.RawDistanceCm-108.9) > 1e-9 {
		t.Errorf("RawDistanceCm = %v, want 108.9", r.RawDistanceCm)
	}
	if r.SmoothedDistanceCm != r.RawDistanceCm {
		t.Errorf("first smoothed distance %v differs from raw %v", r.SmoothedDistanceCm, r.RawDistanceCm)
	}
	if !r.Timestamp.Equal(testEpoch) || r.Timestamp.Location() != time.UTC {
		t.Errorf("Timestamp = %v, want %v UTC", r.Timestamp, testEpoch)
	}
	if r.Channel != "sonar0" || r.SessionID != "test-session" {
		t.Errorf("Channel=%q SessionID=%q", r.Channel, r.SessionID)
	}
	if r.Fix != nil {
		t.Errorf("Fix = %+v, want nil without a provider", r.Fix)
	}

	latest, ok := ch.Latest()
	if !ok || latest.Reflection.Index != 500 {
		t.Errorf("Latest() = %+v, %v", latest, ok)
	}
}

func TestChannel_LowConfidenceSkipsSmoother(t *testing.T) {
	var seen []FrameResult
	ch, sink := newTestChannel(t, WithFrameObserver(FrameObserverFunc(func(res FrameResult) {
		seen = append(seen, res)
	})))
	layout := ch.Config().Layout

	ch.Ingest(frameBytes(layout, map[int]uint16{500: 200}))
	if n := ch.Ingest(frameBytes(layout, map[int]uint16{700: 49})); n != 0 {
		t.Fatalf("low confidence frame emitted %d records", n)
	}
	ch.Ingest(frameBytes(layout, map[int]uint16{600: 120}))

	if len(sink.records) != 2 {
		t.Fatalf("sink got %d records, want 2", len(sink.records))
	}
	// The dropped frame must not have moved the average.
	alpha := ch.Config().Alpha
	want := alpha*600*0.2178 + (1-alpha)*500*0.2178
	if got := sink.records[1].SmoothedDistanceCm; math.Abs(got-want) > 1e-9 {
		t.Errorf("SmoothedDistanceCm = %v, want %v", got, want)
	}

	st := ch.Stats()
	if st.FramesSeen != 3 || st.LowConfidence != 1 || st.RecordsEmitted != 2 || st.FramesDecoded != 3 {
		t.Errorf("unexpected stats: %+v", st)
	}

	if len(seen) != 3 {
		t.Fatalf("observer saw %d frames, want 3", len(seen))
	}
	if seen[1].Accepted || !seen[0].Accepted || !seen[2].Accepted {
		t.Errorf("Accepted flags = %v %v %v", seen[0].Accepted, seen[1].Accepted, seen[2].Accepted)
	}
	if math.Abs(seen[1].SmoothedCm-500*0.2178) > 1e-9 {
		t.Errorf("rejected frame SmoothedCm = %v, want previous value", seen[1].SmoothedCm)
	}
}

func TestChannel_NoReflectionIsLowConfidence(t *testing.T) {
	ch, sink := newTestChannel(t)
	layout := ch.Config().Layout
	zero := layout.AppendFrame(nil, l1frames.Frame{Samples: make([]uint16, layout.NumSamples)})
	if n := ch.Ingest(zero); n != 0 {
		t.Fatalf("all-zero frame emitted %d records", n)
	}
	if len(sink.records) != 0 {
		t.Fatalf("sink got %d records", len(sink.records))
	}
	if _, ok := ch.Latest(); ok {
		t.Error("Latest() reported a record")
	}
}

func TestChannel_ConsistencyAttached(t *testing.T) {
	ch, sink := newTestChannel(t)
	layout := ch.Config().Layout
	ch.Ingest(frameBytes(layout, map[int]uint16{500: 200}))
	ch.Ingest(frameBytes(layout, map[int]uint16{502: 200, 800: 90}))
	ch.Ingest(frameBytes(layout, map[int]uint16{498: 200}))

	if len(sink.records) != 3 {
		t.Fatalf("sink got %d records, want 3", len(sink.records))
	}
	if sink.records[0].Consistent != nil || sink.records[1].Consistent != nil {
		t.Errorf("consistency reported before the window filled")
	}
	if diff := cmp.Diff([]int{498}, sink.records[2].Consistent); diff != "" {
		t.Errorf("Consistent mismatch (-want +got):\n%s", diff)
	}
}

func TestChannel_FixProvider(t *testing.T) {
	ch, sink := newTestChannel(t, WithFixProvider(gps.Static{Lat: 59.91, Lon: 10.75}))
	ch.Ingest(frameBytes(ch.Config().Layout, map[int]uint16{300: 150}))
	if len(sink.records) != 1 || sink.records[0].Fix == nil {
		t.Fatalf("record missing fix: %+v", sink.records)
	}
	if sink.records[0].Fix.Lat != 59.91 {
		t.Errorf("Fix.Lat = %v, want 59.91", sink.records[0].Fix.Lat)
	}
}

func TestChannel_ChunkingInvariance(t *testing.T) {
	layout := l1frames.DefaultLayout()
	var stream []byte
	for i := 0; i < 6; i++ {
		stream = append(stream, 0x01, 0x02, 0x03)
		stream = append(stream, frameBytes(layout, map[int]uint16{400 + 10*i: 180})...)
	}

	whole, wholeSink := newTestChannel(t)
	whole.Ingest(stream)

	bytewise, byteSink := newTestChannel(t)
	total := 0
	for i := range stream {
		total += bytewise.Ingest(stream[i : i+1])
	}

	if total != 6 {
		t.Fatalf("byte-wise ingest emitted %d records, want 6", total)
	}
	if diff := cmp.Diff(wholeSink.records, byteSink.records); diff != "" {
		t.Errorf("records differ by chunking (-whole +bytewise):\n%s", diff)
	}
	if got := bytewise.Stats().BytesDiscarded; got != 18 {
		t.Errorf("BytesDiscarded = %d, want 18", got)
	}
}

type statsRecorder struct {
	total Stats
	calls int
}

func (s *statsRecorder) ObserveStats(channel string, d Stats) {
	s.calls++
	s.total.BytesIngested += d.BytesIngested
	s.total.FramesDecoded += d.FramesDecoded
	s.total.RecordsEmitted += d.RecordsEmitted
	s.total.LowConfidence += d.LowConfidence
}

func TestChannel_StatsObserverReceivesDeltas(t *testing.T) {
	rec := &statsRecorder{}
	ch, _ := newTestChannel(t, WithStatsObserver(rec))
	layout := ch.Config().Layout
	raw := frameBytes(layout, map[int]uint16{500: 200})
	ch.Ingest(raw[:900])
	ch.Ingest(raw[900:])
	ch.Ingest(frameBytes(layout, map[int]uint16{500: 20}))

	if rec.calls != 3 {
		t.Errorf("observer called %d times, want 3", rec.calls)
	}
	st := ch.Stats()
	if rec.total.BytesIngested != st.BytesIngested || rec.total.FramesDecoded != 2 ||
		rec.total.RecordsEmitted != 1 || rec.total.LowConfidence != 1 {
		t.Errorf("delta totals %+v do not match stats %+v", rec.total, st)
	}
}

func TestMultiSink_DeliversInOrder(t *testing.T) {
	var order []string
	m := MultiSink{
		SinkFunc(func(record.OutputRecord) { order = append(order, "a") }),
		nil,
		SinkFunc(func(record.OutputRecord) { order = append(order, "b") }),
	}
	m.OnSample(record.OutputRecord{})
	if diff := cmp.Diff([]string{"a", "b"}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestChannel_GeneratesSessionID(t *testing.T) {
	a, err := NewChannel(DefaultConfig("a"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewChannel(DefaultConfig("b"))
	if err != nil {
		t.Fatal(err)
	}
	if a.SessionID() == "" || a.SessionID() == b.SessionID() {
		t.Errorf("session IDs %q and %q", a.SessionID(), b.SessionID())
	}
	if a.Name() != "a" {
		t.Errorf("Name() = %q", a.Name())
	}
}
