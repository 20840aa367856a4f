// Package metrics exposes pipeline counters and adapter health to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/depth.report/internal/sonar/pipeline"
	"github.com/banshee-data/depth.report/internal/sonar/record"
)

const namespace = "depth"

// Metrics holds every collector of one daemon. Collectors live on their own
// registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	// Decoder and channel counters, fed from per-Ingest deltas.
	// Labels: channel
	BytesIngested    *prometheus.CounterVec
	FramesDecoded    *prometheus.CounterVec
	BytesDiscarded   *prometheus.CounterVec
	JunkRuns         *prometheus.CounterVec
	ChecksumFailures *prometheus.CounterVec
	FramesSeen       *prometheus.CounterVec
	LowConfidence    *prometheus.CounterVec
	RecordsEmitted   *prometheus.CounterVec

	// Latest accepted record. Labels: channel
	DistanceCm *prometheus.GaugeVec
	PeakValue  *prometheus.HistogramVec
}

// New registers the pipeline collectors plus the Go runtime and process
// collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	counter := func(subsystem, name, help string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, []string{"channel"})
	}

	return &Metrics{
		Registry:         reg,
		BytesIngested:    counter("decoder", "bytes_ingested_total", "Raw serial bytes handed to the frame decoder"),
		FramesDecoded:    counter("decoder", "frames_decoded_total", "Frames that passed checksum verification"),
		BytesDiscarded:   counter("decoder", "bytes_discarded_total", "Junk and rejected header bytes dropped during resync"),
		JunkRuns:         counter("decoder", "junk_runs_total", "Discard events while searching for a header"),
		ChecksumFailures: counter("decoder", "checksum_failures_total", "Frame candidates rejected on checksum"),
		FramesSeen:       counter("pipeline", "frames_seen_total", "Frames handed to the echo extractor"),
		LowConfidence:    counter("pipeline", "low_confidence_total", "Frames dropped below the quality threshold"),
		RecordsEmitted:   counter("pipeline", "records_emitted_total", "Records delivered to the dissemination sink"),
		DistanceCm: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "distance_cm",
			Help:      "Smoothed distance of the latest accepted record",
		}, []string{"channel"}),
		PeakValue: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "peak_value",
			Help:      "Amplitude of accepted reflections",
			Buckets:   []float64{50, 75, 100, 125, 150, 175, 200, 225, 255},
		}, []string{"channel"}),
	}
}

// ObserveStats implements pipeline.StatsObserver.
func (m *Metrics) ObserveStats(channel string, d pipeline.Stats) {
	add := func(c *prometheus.CounterVec, v uint64) {
		if v > 0 {
			c.WithLabelValues(channel).Add(float64(v))
		}
	}
	add(m.BytesIngested, d.BytesIngested)
	add(m.FramesDecoded, d.FramesDecoded)
	add(m.BytesDiscarded, d.BytesDiscarded)
	add(m.JunkRuns, d.JunkRuns)
	add(m.ChecksumFailures, d.ChecksumFailures)
	add(m.FramesSeen, d.FramesSeen)
	add(m.LowConfidence, d.LowConfidence)
	add(m.RecordsEmitted, d.RecordsEmitted)
}

// OnSample implements pipeline.Sink.
func (m *Metrics) OnSample(r record.OutputRecord) {
	m.DistanceCm.WithLabelValues(r.Channel).Set(r.SmoothedDistanceCm)
	m.PeakValue.WithLabelValues(r.Channel).Observe(float64(r.Reflection.Value))
}

// CounterFunc exports a monotonically increasing value read at scrape time.
// Adapters that keep their own atomic counters register them this way.
func (m *Metrics) CounterFunc(subsystem, name, help string, fn func() float64) {
	promauto.With(m.Registry).NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
}

// GaugeFunc exports a point-in-time value read at scrape time.
func (m *Metrics) GaugeFunc(subsystem, name, help string, fn func() float64) {
	promauto.With(m.Registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
