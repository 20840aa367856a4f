package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/depth.report/internal/broadcast"
	"github.com/banshee-data/depth.report/internal/config"
	"github.com/banshee-data/depth.report/internal/db"
	"github.com/banshee-data/depth.report/internal/gps"
	"github.com/banshee-data/depth.report/internal/metrics"
	"github.com/banshee-data/depth.report/internal/network"
	"github.com/banshee-data/depth.report/internal/serialmux"
	"github.com/banshee-data/depth.report/internal/sonar/sim"
)

type sourceOptions struct {
	Disabled bool
	Dev      bool
	Replay   string
	Port     string
}

// inputSource is the serial mux feeding the pipeline plus a description for
// the startup log.
type inputSource struct {
	serialmux.SerialMuxInterface
	desc string
}

func (s *inputSource) String() string { return s.desc }

// openSource picks the byte source: nothing, the synthetic device, a replayed
// capture or the real port, in that order of precedence.
func openSource(o sourceOptions, cfg *config.SounderConfig) (*inputSource, error) {
	muxOpts := []serialmux.Option{
		serialmux.WithReadSize(cfg.GetReadChunkBytes()),
		serialmux.WithSubscriberBuffer(cfg.GetSubscriberBuffer()),
	}
	portOpts, err := cfg.PortOptions().Normalise()
	if err != nil {
		return nil, err
	}

	switch {
	case o.Disabled:
		return &inputSource{serialmux.NewDisabledSerialMux(), "nothing (serial disabled)"}, nil

	case o.Dev:
		simCfg := sim.DefaultConfig()
		simCfg.Layout = cfg.PipelineConfig("dev").Layout
		simCfg.CmPerSample = cfg.GetCmPerSample()
		simCfg.JunkProbability = 0.02
		simCfg.BitFlipProbability = 0.01
		p := sim.NewPort(sim.NewDevice(simCfg), devFrameInterval)
		return &inputSource{
			serialmux.NewSerialMux(p, muxOpts...),
			fmt.Sprintf("synthetic sounder (%d samples every %s)", simCfg.Layout.NumSamples, devFrameInterval),
		}, nil

	case o.Replay != "":
		f, err := os.Open(o.Replay)
		if err != nil {
			return nil, fmt.Errorf("open capture: %w", err)
		}
		r := sim.Replay(f, portOpts.BytesPerSecond(), cfg.GetReadChunkBytes())
		return &inputSource{
			serialmux.NewSerialMux(r, muxOpts...),
			fmt.Sprintf("capture %s at %d B/s", o.Replay, portOpts.BytesPerSecond()),
		}, nil

	default:
		if o.Port == "" {
			return nil, fmt.Errorf("serial port is required")
		}
		m, err := serialmux.NewRealSerialMux(o.Port, portOpts, muxOpts...)
		if err != nil {
			return nil, err
		}
		return &inputSource{m, fmt.Sprintf("%s (%s)", o.Port, portOpts)}, nil
	}
}

// fixProvider parses a "lat,lon" pair. An empty value means no fixed
// location.
func fixProvider(v string) (gps.Provider, error) {
	if v == "" {
		return nil, nil
	}
	latS, lonS, ok := strings.Cut(v, ",")
	if !ok {
		return nil, fmt.Errorf("want \"lat,lon\", got %q", v)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latS), 64)
	if err != nil || lat < -90 || lat > 90 {
		return nil, fmt.Errorf("invalid latitude %q", latS)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonS), 64)
	if err != nil || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("invalid longitude %q", lonS)
	}
	return gps.Static{Lat: lat, Lon: lon}, nil
}

// adapters are the optional components whose own counters are exported at
// scrape time. Nil members are skipped.
type adapters struct {
	Hub       *broadcast.Hub
	Serial    serialmux.SerialMuxInterface
	Persister *db.Persister
	Forwarder *network.RecordForwarder
}

func registerAdapterMetrics(m *metrics.Metrics, a adapters) {
	if a.Hub != nil {
		hub := a.Hub
		m.CounterFunc("hub", "published_total", "Records offered to live viewers",
			func() float64 { return float64(hub.Stats().Published) })
		m.CounterFunc("hub", "dropped_total", "Records a slow live viewer did not receive",
			func() float64 { return float64(hub.Stats().Dropped) })
		m.GaugeFunc("hub", "subscribers", "Connected live viewers",
			func() float64 { return float64(hub.Len()) })
	}
	if a.Serial != nil {
		serial := a.Serial
		m.CounterFunc("serial", "bytes_read_total", "Bytes read from the sounder port",
			func() float64 { return float64(serial.Stats().BytesRead) })
		m.CounterFunc("serial", "tail_drops_total", "Chunks a slow debug tail client did not receive",
			func() float64 { return float64(serial.Stats().SubscriberDrops) })
	}
	if a.Persister != nil {
		p := a.Persister
		m.CounterFunc("db", "soundings_written_total", "Soundings written to the database",
			func() float64 { return float64(p.Stats().Written) })
		m.CounterFunc("db", "write_failures_total", "Failed sounding writes",
			func() float64 { return float64(p.Stats().Failed) })
		m.CounterFunc("db", "superseded_total", "Records replaced before a write by a newer one",
			func() float64 { return float64(p.Stats().Superseded) })
	}
	if a.Forwarder != nil {
		f := a.Forwarder
		m.CounterFunc("forwarder", "sent_total", "Datagrams sent",
			func() float64 { return float64(f.Stats().Sent) })
		m.CounterFunc("forwarder", "queue_drops_total", "Records dropped on a full send queue",
			func() float64 { return float64(f.Stats().QueueDrops) })
		m.CounterFunc("forwarder", "write_errors_total", "Failed datagram writes",
			func() float64 { return float64(f.Stats().WriteErrors) })
	}
}
