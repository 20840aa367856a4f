package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depth.report/internal/broadcast"
	"github.com/banshee-data/depth.report/internal/config"
	"github.com/banshee-data/depth.report/internal/gps"
	"github.com/banshee-data/depth.report/internal/metrics"
	"github.com/banshee-data/depth.report/internal/serialmux"
	"github.com/banshee-data/depth.report/internal/sonar/pipeline"
	"github.com/banshee-data/depth.report/internal/sonar/record"
	"github.com/banshee-data/depth.report/internal/sonar/sim"
	"github.com/banshee-data/depth.report/internal/testutil"
)

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, "/dev/ttyACM1", *port)
	assert.Equal(t, ":8080", *listen)
	assert.Equal(t, "cm", *displayUnits)
	assert.Equal(t, "primary", *channelName)
	assert.Equal(t, gps.DefaultBaudRate, *gpsBaud)
	assert.False(t, *devMode)
	assert.False(t, *disableDB)
	assert.Empty(t, *forwardAddr)
}

func TestFixProvider(t *testing.T) {
	p, err := fixProvider("")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = fixProvider(" 50.1 , -4.25")
	require.NoError(t, err)
	fix, ok := p.CurrentFix()
	assert.True(t, ok)
	assert.Equal(t, gps.Fix{Lat: 50.1, Lon: -4.25}, fix)

	for _, bad := range []string{"50.1", "north,west", "91,0", "0,181", "0,"} {
		_, err := fixProvider(bad)
		assert.Error(t, err, bad)
	}
}

func TestOpenLogWriter(t *testing.T) {
	w, closeFn, err := openLogWriter("")
	require.NoError(t, err)
	assert.Nil(t, w)
	closeFn()

	w, closeFn, err = openLogWriter("-")
	require.NoError(t, err)
	assert.Equal(t, os.Stderr, w)
	closeFn()

	path := filepath.Join(t.TempDir(), "diag.log")
	w, closeFn, err = openLogWriter(path)
	require.NoError(t, err)
	_, err = io.WriteString(w, "hello\n")
	require.NoError(t, err)
	closeFn()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.EmptySounderConfig(), cfg)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestOpenSource_Disabled(t *testing.T) {
	src, err := openSource(sourceOptions{Disabled: true, Dev: true}, config.EmptySounderConfig())
	require.NoError(t, err)
	defer src.Close()
	_, ok := src.SerialMuxInterface.(*serialmux.DisabledSerialMux)
	assert.True(t, ok)
}

func TestOpenSource_RealPortRequiresPath(t *testing.T) {
	_, err := openSource(sourceOptions{}, config.EmptySounderConfig())
	assert.Error(t, err)
}

func TestOpenSource_InvalidPortOptions(t *testing.T) {
	cfg := config.EmptySounderConfig()
	parity := "X"
	cfg.Parity = &parity
	_, err := openSource(sourceOptions{Dev: true}, cfg)
	assert.Error(t, err)
}

func TestOpenSource_ReplayFeedsPipeline(t *testing.T) {
	dev := sim.NewDevice(sim.DefaultConfig())
	var capture []byte
	for range 5 {
		capture = dev.AppendNext(capture)
	}
	path := filepath.Join(t.TempDir(), "capture.bin")
	require.NoError(t, os.WriteFile(path, capture, 0o644))

	cfg := config.EmptySounderConfig()
	src, err := openSource(sourceOptions{Replay: path}, cfg)
	require.NoError(t, err)
	defer src.Close()
	assert.Contains(t, src.String(), "capture.bin")

	var got []record.OutputRecord
	channel, err := pipeline.NewChannel(cfg.PipelineConfig("replay"),
		pipeline.WithSink(pipeline.SinkFunc(func(r record.OutputRecord) { got = append(got, r) })))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, src.Monitor(ctx, func(chunk []byte) { channel.Ingest(chunk) }))

	st := channel.Stats()
	assert.Equal(t, uint64(len(capture)), st.BytesIngested)
	assert.Equal(t, uint64(5), st.FramesDecoded)
	assert.NotEmpty(t, got)
	for _, r := range got {
		assert.Equal(t, "replay", r.Channel)
	}
}

func TestOpenSource_DevProducesFrames(t *testing.T) {
	src, err := openSource(sourceOptions{Dev: true}, config.EmptySounderConfig())
	require.NoError(t, err)
	defer src.Close()
	assert.Contains(t, src.String(), "synthetic")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chunks := make(chan int, 64)
	go src.Monitor(ctx, func(chunk []byte) {
		select {
		case chunks <- len(chunk):
		default:
		}
	})

	select {
	case n := <-chunks:
		assert.Positive(t, n)
	case <-time.After(2 * time.Second):
		t.Fatal("no chunk from the synthetic sounder")
	}
}

func TestRegisterAdapterMetrics(t *testing.T) {
	m := metrics.New()
	hub := broadcast.NewHub()
	defer hub.Close()
	_, _, err := hub.Subscribe(1)
	require.NoError(t, err)
	hub.OnSample(record.OutputRecord{})
	hub.OnSample(record.OutputRecord{})

	registerAdapterMetrics(m, adapters{Hub: hub, Serial: serialmux.NewDisabledSerialMux()})

	rec := testutil.Serve(m.Handler(), http.MethodGet, "/metrics")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	body := rec.Body.String()
	for _, want := range []string{
		"depth_hub_published_total 2",
		"depth_hub_dropped_total 1",
		"depth_hub_subscribers 1",
		"depth_serial_bytes_read_total 0",
	} {
		assert.True(t, strings.Contains(body, want), "missing %q", want)
	}
	assert.NotContains(t, body, "depth_db_")
	assert.NotContains(t, body, "depth_forwarder_")
}
