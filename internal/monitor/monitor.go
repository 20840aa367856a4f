package monitor

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/depth.report/internal/httputil"
	"github.com/banshee-data/depth.report/internal/sonar/pipeline"
)

// Monitor serves the frame history on the tsweb debug index.
type Monitor struct {
	history     *History
	channel     string
	threshold   uint16
	cmPerSample float64
}

// New returns a Monitor over history for the channel configured in cfg.
func New(history *History, cfg pipeline.Config) *Monitor {
	return &Monitor{
		history:     history,
		channel:     cfg.Channel,
		threshold:   cfg.Consistency.Threshold,
		cmPerSample: cfg.Echo.CmPerSample,
	}
}

// History returns the ring the monitor renders.
func (m *Monitor) History() *History { return m.history }

// AttachAdminRoutes registers the echogram, depth chart and console under
// /debug/.
func (m *Monitor) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("echogram.png", "Waterfall of recent frames", m.handleEchogram)
	debug.HandleFunc("depth-chart", "Raw and smoothed depth over recent frames", m.handleDepthChart)
	debug.HandleFunc("console", "Highlighted samples of the latest frames", m.handleConsole)
}

func (m *Monitor) handleEchogram(w http.ResponseWriter, r *http.Request) {
	width := queryInt(r, "width", 1000, 200, 4000)
	height := queryInt(r, "height", 600, 200, 4000)

	var buf bytes.Buffer
	err := RenderEchogram(&buf, m.history.Snapshot(), m.cmPerSample, vg.Length(width)*vg.Inch/96, vg.Length(height)*vg.Inch/96)
	if errors.Is(err, ErrNotEnoughFrames) {
		httputil.ServiceUnavailable(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func (m *Monitor) handleDepthChart(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	err := RenderDepthChart(&buf, m.history.Snapshot(), m.channel)
	if errors.Is(err, ErrNotEnoughFrames) {
		httputil.ServiceUnavailable(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (m *Monitor) handleConsole(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "frames", 1, 1, 20)
	columns := queryInt(r, "columns", DefaultConsoleColumns, 1, 200)

	frames := m.history.Snapshot()
	if len(frames) == 0 {
		httputil.ServiceUnavailable(w, "no frames decoded yet")
		return
	}
	frames = frames[max(0, len(frames)-n):]

	var b strings.Builder
	fmt.Fprintf(&b, "Tracking: channel=%s threshold=%d frames=%d\n", m.channel, m.threshold, m.history.Total())
	for _, f := range frames {
		b.WriteByte('\n')
		b.WriteString(ConsoleFrame(f, m.threshold, columns))
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}

// queryInt reads an integer query parameter, falling back to def when it
// is absent or outside [lo, hi].
func queryInt(r *http.Request, key string, def, lo, hi int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < lo || v > hi {
		return def
	}
	return v
}
