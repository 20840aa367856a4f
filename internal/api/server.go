// Package api serves the live and persisted soundings over HTTP and
// WebSocket.
package api

import (
	"net/http"
	"strconv"

	"github.com/banshee-data/depth.report/internal/broadcast"
	"github.com/banshee-data/depth.report/internal/config"
	"github.com/banshee-data/depth.report/internal/db"
	"github.com/banshee-data/depth.report/internal/httputil"
	"github.com/banshee-data/depth.report/internal/monitoring"
	"github.com/banshee-data/depth.report/internal/sonar/pipeline"
	"github.com/banshee-data/depth.report/internal/sonar/record"
	"github.com/banshee-data/depth.report/internal/units"
	"github.com/banshee-data/depth.report/internal/version"
)

// MaxSoundingsLimit caps the limit query parameter of /api/soundings.
const MaxSoundingsLimit = 10000

var logf = monitoring.Component("api")

// ChannelView is the read side of a pipeline channel.
type ChannelView interface {
	Name() string
	SessionID() string
	Latest() (record.OutputRecord, bool)
	Stats() pipeline.Stats
}

// SoundingStore is the read side of the soundings database.
type SoundingStore interface {
	RecentSoundings(limit int) ([]db.Sounding, error)
	CountSoundings() (int64, error)
}

// StatsSource contributes a named section to /api/stats.
type StatsSource func() any

// Server holds the handlers' dependencies.
type Server struct {
	channel ChannelView
	hub     *broadcast.Hub
	store   SoundingStore
	cfg     *config.SounderConfig
	metrics http.Handler
	units   string

	statsNames   []string
	statsSources map[string]StatsSource
}

// Option configures a Server.
type Option func(*Server)

// WithHub enables /api/ws and adds hub counters to /api/stats.
func WithHub(h *broadcast.Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithStore enables /api/soundings.
func WithStore(st SoundingStore) Option {
	return func(s *Server) { s.store = st }
}

// WithConfig sets the configuration reported by /api/config.
func WithConfig(cfg *config.SounderConfig) Option {
	return func(s *Server) { s.cfg = cfg }
}

// WithMetrics mounts a Prometheus handler at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithUnits sets the display units used when a request names none.
func WithUnits(u string) Option {
	return func(s *Server) { s.units = u }
}

// WithStatsSource adds a named section to /api/stats.
func WithStatsSource(name string, fn StatsSource) Option {
	return func(s *Server) {
		if _, ok := s.statsSources[name]; !ok {
			s.statsNames = append(s.statsNames, name)
		}
		s.statsSources[name] = fn
	}
}

// NewServer returns a server for one pipeline channel.
func NewServer(channel ChannelView, opts ...Option) *Server {
	s := &Server{
		channel:      channel,
		units:        units.CM,
		statsSources: make(map[string]StatsSource),
	}
	for _, o := range opts {
		o(s)
	}
	if !units.IsValid(s.units) {
		logf("unknown display units %q, using %s", s.units, units.CM)
		s.units = units.CM
	}
	if s.cfg == nil {
		s.cfg = config.EmptySounderConfig()
	}
	return s
}

// ServeMux returns the routes. Callers wrap it with LoggingMiddleware and
// attach the debug routes to the same mux.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/latest", s.handleLatest)
	mux.HandleFunc("/api/soundings", s.handleSoundings)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/ws", s.handleWebSocket)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// requestUnits returns the units query parameter, or the server default.
func (s *Server) requestUnits(w http.ResponseWriter, r *http.Request) (string, bool) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.units, true
	}
	if !units.IsValid(u) {
		httputil.BadRequest(w, "invalid 'units' parameter; must be one of: "+units.GetValidUnitsString())
		return "", false
	}
	return u, true
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	u, ok := s.requestUnits(w, r)
	if !ok {
		return
	}
	rec, ok := s.channel.Latest()
	if !ok {
		httputil.ServiceUnavailable(w, "no sounding accepted yet")
		return
	}
	wire := rec.Wire()
	d := units.ConvertDistance(rec.SmoothedDistanceCm, u)
	wire.Units = u
	wire.Distance = &d
	httputil.WriteJSONOK(w, wire)
}

// soundingResponse is a persisted sounding with its distance in the
// requested units.
type soundingResponse struct {
	db.Sounding
	Units    string  `json:"units"`
	Distance float64 `json:"distance"`
}

func (s *Server) handleSoundings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.store == nil {
		httputil.ServiceUnavailable(w, "database disabled")
		return
	}
	u, ok := s.requestUnits(w, r)
	if !ok {
		return
	}

	limit := db.DefaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "invalid 'limit' parameter; must be a positive integer")
			return
		}
		limit = min(n, MaxSoundingsLimit)
	}

	rows, err := s.store.RecentSoundings(limit)
	if err != nil {
		logf("recent soundings: %v", err)
		httputil.InternalServerError(w, "failed to read soundings")
		return
	}
	out := make([]soundingResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, soundingResponse{
			Sounding: row,
			Units:    u,
			Distance: units.ConvertDistance(row.DistanceCm, u),
		})
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	out := map[string]any{
		"channel":    s.channel.Name(),
		"session_id": s.channel.SessionID(),
		"pipeline":   s.channel.Stats(),
	}
	if s.hub != nil {
		out["hub"] = s.hub.Stats()
	}
	if s.store != nil {
		if n, err := s.store.CountSoundings(); err != nil {
			logf("count soundings: %v", err)
		} else {
			out["soundings"] = n
		}
	}
	for _, name := range s.statsNames {
		out[name] = s.statsSources[name]()
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"units":   s.units,
		"sounder": s.cfg.Effective(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, version.Current())
}
