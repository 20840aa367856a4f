// Package capture records the raw serial byte stream to files that the
// daemon can later replay with -replay.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/depth.report/internal/fsutil"
	"github.com/banshee-data/depth.report/internal/httputil"
	"github.com/banshee-data/depth.report/internal/monitoring"
	"github.com/banshee-data/depth.report/internal/security"
	"github.com/banshee-data/depth.report/internal/timeutil"
)

const (
	DefaultDuration = 30 * time.Second
	MaxDuration     = 10 * time.Minute
	Extension       = ".bin"
)

// ErrBusy is returned when a capture is requested while one is running.
var ErrBusy = errors.New("capture: already recording")

var logf = monitoring.Component("capture")

// Tail is the subscription side of the serial mux.
type Tail interface {
	Subscribe() (string, chan []byte)
	Unsubscribe(string)
}

// Result describes a finished capture.
type Result struct {
	Path     string        `json:"path"`
	Bytes    int64         `json:"bytes"`
	Chunks   int           `json:"chunks"`
	Duration time.Duration `json:"duration_ns"`
	// Ended is why recording stopped: "elapsed", "cancelled" or "closed".
	Ended string `json:"ended"`
}

// Recorder writes at most one capture at a time into a directory.
type Recorder struct {
	tail    Tail
	dir     string
	fs      fsutil.FileSystem
	clock   timeutil.Clock
	running atomic.Bool
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithFileSystem replaces the OS filesystem.
func WithFileSystem(fs fsutil.FileSystem) Option {
	return func(r *Recorder) { r.fs = fs }
}

// WithClock replaces the wall clock used for the deadline and default names.
func WithClock(c timeutil.Clock) Option {
	return func(r *Recorder) { r.clock = c }
}

// NewRecorder records chunks from tail into dir.
func NewRecorder(tail Tail, dir string, opts ...Option) *Recorder {
	r := &Recorder{
		tail:  tail,
		dir:   dir,
		fs:    fsutil.OSFileSystem{},
		clock: timeutil.RealClock{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Dir returns the capture directory.
func (r *Recorder) Dir() string { return r.dir }

// Path returns where a capture called name is written. The name is
// sanitised; an empty name is replaced by a UTC timestamp.
func (r *Recorder) Path(name string) (string, error) {
	if name == "" {
		name = "capture-" + r.clock.Now().UTC().Format("20060102T150405Z")
	}
	path := filepath.Join(r.dir, security.SanitizeFilename(name)+Extension)
	if err := security.ValidatePathWithinDirectory(path, r.dir); err != nil {
		return "", err
	}
	return path, nil
}

// Record copies the serial stream into a new file until d has elapsed, ctx
// ends or the mux closes. d is clamped to (0, MaxDuration]. A capture that
// fails part way is removed.
func (r *Recorder) Record(ctx context.Context, name string, d time.Duration) (Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Result{}, ErrBusy
	}
	defer r.running.Store(false)

	if d <= 0 {
		d = DefaultDuration
	}
	d = min(d, MaxDuration)

	if err := r.fs.MkdirAll(r.dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create capture dir: %w", err)
	}
	path, err := r.Path(name)
	if err != nil {
		return Result{}, err
	}
	w, err := r.fs.Create(path)
	if err != nil {
		return Result{}, fmt.Errorf("create capture: %w", err)
	}

	id, chunks := r.tail.Subscribe()
	defer r.tail.Unsubscribe(id)

	deadline := r.clock.NewTicker(d)
	defer deadline.Stop()

	res := Result{Path: path}
	start := r.clock.Now()
	logf("recording %s for up to %s", path, d)

	for res.Ended == "" {
		select {
		case <-ctx.Done():
			res.Ended = "cancelled"
		case <-deadline.C():
			res.Ended = "elapsed"
		case chunk, ok := <-chunks:
			if !ok {
				res.Ended = "closed"
				continue
			}
			n, werr := w.Write(chunk)
			res.Bytes += int64(n)
			res.Chunks++
			if werr != nil {
				w.Close()
				r.fs.Remove(path)
				return Result{}, fmt.Errorf("write capture: %w", werr)
			}
		}
	}
	res.Duration = r.clock.Now().Sub(start)

	if err := w.Close(); err != nil {
		r.fs.Remove(path)
		return Result{}, fmt.Errorf("close capture: %w", err)
	}
	logf("wrote %s: %d bytes in %d chunks (%s)", path, res.Bytes, res.Chunks, res.Ended)
	return res, nil
}

// AttachAdminRoutes registers /debug/capture. The request blocks for the
// capture duration, given in seconds by ?seconds=.
func (r *Recorder) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("capture", "Record raw serial bytes for -replay (?seconds=&name=)", r.handleCapture)
}

func (r *Recorder) handleCapture(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, "GET, POST")
		return
	}
	d := DefaultDuration
	if v := req.URL.Query().Get("seconds"); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil || secs <= 0 {
			httputil.BadRequest(w, "invalid 'seconds' parameter; must be a positive number")
			return
		}
		d = time.Duration(secs * float64(time.Second))
	}

	res, err := r.Record(req.Context(), req.URL.Query().Get("name"), d)
	switch {
	case errors.Is(err, ErrBusy):
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
	case err != nil:
		httputil.InternalServerError(w, err.Error())
	default:
		httputil.WriteJSONOK(w, res)
	}
}
