// Package gps provides the location fix attached to each sounding.
//
// It is a minimal NMEA reader for USB serial GNSS receivers: RMC and GGA
// sentences update the latest position, and consumers poll it through the
// Provider interface. A missing or stale fix is not an error; records are
// simply emitted without a location.
package gps

import (
	"sync"
	"time"

	"github.com/banshee-data/depth.report/internal/timeutil"
)

// DefaultMaxAge is how long a fix stays current without a new sentence.
const DefaultMaxAge = 5 * time.Second

// Fix is a position in decimal degrees. Time is when the fix was received.
type Fix struct {
	Lat  float64   `json:"lat"`
	Lon  float64   `json:"lon"`
	Time time.Time `json:"-"`
}

// Provider supplies the latest location fix, if any.
type Provider interface {
	CurrentFix() (Fix, bool)
}

// Static is a fixed position, used for moored or bench deployments.
type Static Fix

// CurrentFix always returns the static position.
func (s Static) CurrentFix() (Fix, bool) { return Fix(s), true }

// Tracker holds the most recent fix decoded from an NMEA stream.
type Tracker struct {
	clock  timeutil.Clock
	maxAge time.Duration

	mu        sync.Mutex
	fix       Fix
	valid     bool
	sentences uint64
	rejected  uint64
}

// NewTracker returns a tracker whose fixes expire after maxAge. A zero
// maxAge uses DefaultMaxAge; a nil clock uses the wall clock.
func NewTracker(maxAge time.Duration, clock timeutil.Clock) *Tracker {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Tracker{clock: clock, maxAge: maxAge}
}

// CurrentFix returns the latest fix if it is younger than the tracker's
// maximum age.
func (t *Tracker) CurrentFix() (Fix, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid || t.clock.Now().Sub(t.fix.Time) > t.maxAge {
		return Fix{}, false
	}
	return t.fix, true
}

// HandleSentence parses one NMEA line and updates the fix when it carries
// a valid position. It reports whether the fix changed.
func (t *Tracker) HandleSentence(line string) bool {
	lat, lon, ok, err := ParseSentence(line)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.sentences++
	if err != nil {
		t.rejected++
		return false
	}
	if !ok {
		return false
	}
	t.fix = Fix{Lat: lat, Lon: lon, Time: t.clock.Now()}
	t.valid = true
	return true
}

// Counts returns the number of sentences seen and rejected as malformed.
func (t *Tracker) Counts() (sentences, rejected uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sentences, t.rejected
}
