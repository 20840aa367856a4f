package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depth.report/internal/sonar/l1frames"
	"github.com/banshee-data/depth.report/internal/sonar/l2echo"
	"github.com/banshee-data/depth.report/internal/sonar/pipeline"
	"github.com/banshee-data/depth.report/internal/sonar/record"
)

func TestObserveStats_AccumulatesDeltas(t *testing.T) {
	m := New()

	delta := pipeline.Stats{
		Stats: l1frames.Stats{
			BytesIngested:    1808,
			FramesDecoded:    1,
			BytesDiscarded:   3,
			JunkRuns:         1,
			ChecksumFailures: 2,
		},
		FramesSeen:     1,
		RecordsEmitted: 1,
	}
	m.ObserveStats("ch0", delta)
	m.ObserveStats("ch0", delta)
	m.ObserveStats("ch1", pipeline.Stats{LowConfidence: 4})

	assert.Equal(t, 3616.0, testutil.ToFloat64(m.BytesIngested.WithLabelValues("ch0")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesDecoded.WithLabelValues("ch0")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.BytesDiscarded.WithLabelValues("ch0")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ChecksumFailures.WithLabelValues("ch0")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsEmitted.WithLabelValues("ch0")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.LowConfidence.WithLabelValues("ch1")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LowConfidence.WithLabelValues("ch0")))
}

func TestOnSample_SetsDistanceGauge(t *testing.T) {
	m := New()
	m.OnSample(record.OutputRecord{
		Channel:            "ch0",
		SmoothedDistanceCm: 108.9,
		Reflection:         l2echo.Reflection{Value: 200, Index: 500},
	})
	assert.InDelta(t, 108.9, testutil.ToFloat64(m.DistanceCm.WithLabelValues("ch0")), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(m.PeakValue))
}

func TestHandler_ExposesFuncCollectors(t *testing.T) {
	m := New()
	var n float64 = 7
	m.CounterFunc("hub", "dropped_total", "Records dropped for slow viewers", func() float64 { return n })
	m.GaugeFunc("hub", "subscribers", "Live viewers", func() float64 { return 2 })
	m.ObserveStats("ch0", pipeline.Stats{FramesSeen: 1})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "depth_hub_dropped_total 7")
	assert.Contains(t, text, "depth_hub_subscribers 2")
	assert.True(t, strings.Contains(text, `depth_pipeline_frames_seen_total{channel="ch0"} 1`))
	assert.Contains(t, text, "go_goroutines")
}
