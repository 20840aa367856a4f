package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depth.report/internal/broadcast"
	"github.com/banshee-data/depth.report/internal/config"
	"github.com/banshee-data/depth.report/internal/db"
	"github.com/banshee-data/depth.report/internal/gps"
	"github.com/banshee-data/depth.report/internal/httputil"
	"github.com/banshee-data/depth.report/internal/sonar/l1frames"
	"github.com/banshee-data/depth.report/internal/sonar/l2echo"
	"github.com/banshee-data/depth.report/internal/sonar/pipeline"
	"github.com/banshee-data/depth.report/internal/sonar/record"
	"github.com/banshee-data/depth.report/internal/testutil"
	"github.com/banshee-data/depth.report/internal/version"
)

type fakeChannel struct {
	latest record.OutputRecord
	has    bool
	stats  pipeline.Stats
}

func (f *fakeChannel) Name() string      { return "primary" }
func (f *fakeChannel) SessionID() string { return "session-1" }
func (f *fakeChannel) Latest() (record.OutputRecord, bool) {
	return f.latest, f.has
}
func (f *fakeChannel) Stats() pipeline.Stats { return f.stats }

type fakeStore struct {
	rows      []db.Sounding
	err       error
	lastLimit int
}

func (f *fakeStore) RecentSoundings(limit int) ([]db.Sounding, error) {
	f.lastLimit = limit
	return f.rows, f.err
}

func (f *fakeStore) CountSoundings() (int64, error) { return int64(len(f.rows)), f.err }

func sampleRecord() record.OutputRecord {
	return record.OutputRecord{
		Timestamp:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Channel:            "primary",
		SessionID:          "session-1",
		Reflection:         l2echo.Reflection{Value: 900, Index: 412, BlindZoneEnd: 60, NoiseFloor: 12.5},
		SmoothedDistanceCm: 150,
		RawDistanceCm:      152,
		Fix:                &gps.Fix{Lat: 51.5, Lon: -0.12},
		Consistent:         []int{410, 412},
	}
}

func TestLatest_NoRecordYet(t *testing.T) {
	s := NewServer(&fakeChannel{})
	rec := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/latest")
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)
}

func TestLatest_ConvertsUnits(t *testing.T) {
	s := NewServer(&fakeChannel{latest: sampleRecord(), has: true})
	rec := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/latest?units=m")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	got := testutil.DecodeJSON[record.Wire](t, rec)
	assert.Equal(t, "m", got.Units)
	require.NotNil(t, got.Distance)
	assert.InDelta(t, 1.5, *got.Distance, 1e-9)
	assert.Equal(t, 150.0, got.DistanceCm)
	assert.Equal(t, uint8(255), got.PeakValue)
	assert.Equal(t, 412, got.PeakIndex)
	assert.Equal(t, []int{410, 412}, got.ConsistentIndices)
	require.NotNil(t, got.LocationFix)
	assert.Equal(t, 51.5, got.LocationFix.Lat)
}

func TestLatest_DefaultUnitsFromServer(t *testing.T) {
	s := NewServer(&fakeChannel{latest: sampleRecord(), has: true}, WithUnits("ft"))
	got := testutil.DecodeJSON[record.Wire](t, testutil.Serve(s.ServeMux(), http.MethodGet, "/api/latest"))
	assert.Equal(t, "ft", got.Units)
	assert.InDelta(t, 150/30.48, *got.Distance, 1e-9)
}

func TestLatest_RejectsBadUnits(t *testing.T) {
	s := NewServer(&fakeChannel{latest: sampleRecord(), has: true})
	rec := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/latest?units=fathoms")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	body := testutil.DecodeJSON[httputil.ErrorResponse](t, rec)
	assert.Contains(t, body.Error, "cm, m, ft, in")
}

func TestNewServer_UnknownDefaultUnitsFallsBack(t *testing.T) {
	s := NewServer(&fakeChannel{}, WithUnits("furlongs"))
	assert.Equal(t, "cm", s.units)
}

func TestMethodNotAllowed(t *testing.T) {
	s := NewServer(&fakeChannel{}, WithStore(&fakeStore{}), WithHub(broadcast.NewHub()))
	for _, path := range []string{"/api/latest", "/api/soundings", "/api/stats", "/api/config", "/api/version", "/api/ws"} {
		t.Run(path, func(t *testing.T) {
			rec := testutil.Serve(s.ServeMux(), http.MethodPost, path)
			testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
			assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
		})
	}
}

func TestSoundings_DatabaseDisabled(t *testing.T) {
	s := NewServer(&fakeChannel{})
	rec := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/soundings")
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)
}

func TestSoundings_LimitAndUnits(t *testing.T) {
	store := &fakeStore{rows: []db.Sounding{
		{ID: 2, Channel: "primary", DistanceCm: 254},
		{ID: 1, Channel: "primary", DistanceCm: 127},
	}}
	s := NewServer(&fakeChannel{}, WithStore(store))

	rec := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/soundings?limit=2&units=in")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, 2, store.lastLimit)

	got := testutil.DecodeJSON[[]soundingResponse](t, rec)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, "in", got[0].Units)
	assert.InDelta(t, 100, got[0].Distance, 1e-9)
	assert.InDelta(t, 50, got[1].Distance, 1e-9)
}

func TestSoundings_LimitDefaultsAndCaps(t *testing.T) {
	store := &fakeStore{}
	s := NewServer(&fakeChannel{}, WithStore(store))

	rec := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/soundings")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, db.DefaultRecentLimit, store.lastLimit)
	assert.Equal(t, "[]\n", rec.Body.String())

	testutil.Serve(s.ServeMux(), http.MethodGet, "/api/soundings?limit=999999")
	assert.Equal(t, MaxSoundingsLimit, store.lastLimit)
}

func TestSoundings_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		store  *fakeStore
		want   int
	}{
		{"non-numeric limit", "/api/soundings?limit=abc", &fakeStore{}, http.StatusBadRequest},
		{"zero limit", "/api/soundings?limit=0", &fakeStore{}, http.StatusBadRequest},
		{"bad units", "/api/soundings?units=yd", &fakeStore{}, http.StatusBadRequest},
		{"store failure", "/api/soundings", &fakeStore{err: errors.New("disk gone")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(&fakeChannel{}, WithStore(tt.store))
			rec := testutil.Serve(s.ServeMux(), http.MethodGet, tt.target)
			testutil.AssertStatusCode(t, rec.Code, tt.want)
		})
	}
}

func TestStats_IncludesEverySection(t *testing.T) {
	ch := &fakeChannel{stats: pipeline.Stats{
		Stats:          l1frames.Stats{FramesDecoded: 7, ChecksumFailures: 2},
		FramesSeen:     7,
		RecordsEmitted: 5,
	}}
	hub := broadcast.NewHub()
	defer hub.Close()
	hub.OnSample(sampleRecord())

	s := NewServer(ch,
		WithHub(hub),
		WithStore(&fakeStore{rows: make([]db.Sounding, 3)}),
		WithStatsSource("forwarder", func() any { return map[string]int{"sent": 9} }),
	)
	rec := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/stats")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	got := testutil.DecodeJSON[map[string]any](t, rec)
	assert.Equal(t, "primary", got["channel"])
	assert.Equal(t, "session-1", got["session_id"])
	assert.Equal(t, 3.0, got["soundings"])

	pipe := got["pipeline"].(map[string]any)
	assert.Equal(t, 7.0, pipe["FramesDecoded"])
	assert.Equal(t, 2.0, pipe["ChecksumFailures"])
	assert.Equal(t, 5.0, pipe["RecordsEmitted"])

	assert.Equal(t, 1.0, got["hub"].(map[string]any)["published"])
	assert.Equal(t, 9.0, got["forwarder"].(map[string]any)["sent"])
}

func TestConfig_ReportsEffectiveValues(t *testing.T) {
	s := NewServer(&fakeChannel{}, WithUnits("m"))
	rec := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/config")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	got := testutil.DecodeJSON[struct {
		Units   string               `json:"units"`
		Sounder config.SounderConfig `json:"sounder"`
	}](t, rec)
	assert.Equal(t, "m", got.Units)
	assert.Equal(t, config.DefaultSounderConfig(), &got.Sounder)
}

func TestVersion(t *testing.T) {
	s := NewServer(&fakeChannel{})
	rec := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/version")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, version.Current(), testutil.DecodeJSON[version.Info](t, rec))
}

func TestMetricsMountedOnlyWhenConfigured(t *testing.T) {
	s := NewServer(&fakeChannel{})
	testutil.AssertStatusCode(t, testutil.Serve(s.ServeMux(), http.MethodGet, "/metrics").Code, http.StatusNotFound)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("depth_up 1\n"))
	})
	s = NewServer(&fakeChannel{}, WithMetrics(metrics))
	rec := testutil.Serve(s.ServeMux(), http.MethodGet, "/metrics")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "depth_up 1\n", rec.Body.String())
}

func TestWebSocket_DisabledWithoutHub(t *testing.T) {
	s := NewServer(&fakeChannel{})
	rec := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/ws")
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)
}

func TestWebSocket_RejectsUnknownFormat(t *testing.T) {
	s := NewServer(&fakeChannel{}, WithHub(broadcast.NewHub()))
	rec := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/ws?format=xml")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func dialStream(t *testing.T, hub *broadcast.Hub, query string) *websocket.Conn {
	t.Helper()
	s := NewServer(&fakeChannel{}, WithHub(hub))
	srv := httptest.NewServer(LoggingMiddleware(s.ServeMux()))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func TestWebSocket_StreamsJSON(t *testing.T) {
	hub := broadcast.NewHub()
	defer hub.Close()
	conn := dialStream(t, hub, "")

	hub.OnSample(sampleRecord())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got record.Wire
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "primary", got.Channel)
	assert.Equal(t, 150.0, got.DistanceCm)
	assert.Equal(t, 412, got.PeakIndex)
}

func TestWebSocket_StreamsCompact(t *testing.T) {
	hub := broadcast.NewHub()
	defer hub.Close()
	conn := dialStream(t, hub, "?format=compact")

	hub.OnSample(sampleRecord())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	require.Len(t, msg, record.CompactSize)

	c, err := record.DecodeCompact(msg)
	require.NoError(t, err)
	assert.Equal(t, uint16(1500), c.DistanceMM)
	assert.Equal(t, uint8(255), c.PeakValue)
}

func TestWebSocket_UnsubscribesOnClientClose(t *testing.T) {
	hub := broadcast.NewHub()
	defer hub.Close()
	conn := dialStream(t, hub, "")

	conn.Close()
	require.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), hub.Stats().Unsubscribed)
}

func TestWebSocket_ClosedHubEndsStream(t *testing.T) {
	hub := broadcast.NewHub()
	conn := dialStream(t, hub, "")

	hub.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
