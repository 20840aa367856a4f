package l3track

import (
	"fmt"
	"slices"
	"sort"
)

const (
	DefaultConsistencyWindow    = 3
	DefaultConsistencyThreshold = 50
	DefaultConsistencyTolerance = 5
)

// ConsistencyConfig configures a ConsistencyTracker.
type ConsistencyConfig struct {
	Window    int    // K, number of frames that must agree (default: 3)
	Threshold uint16 // Minimum sample value counted as a peak (default: 50)
	Tolerance int    // Allowed index drift between frames (default: 5)
}

// DefaultConsistencyConfig returns the window used by the console display.
func DefaultConsistencyConfig() ConsistencyConfig {
	return ConsistencyConfig{
		Window:    DefaultConsistencyWindow,
		Threshold: DefaultConsistencyThreshold,
		Tolerance: DefaultConsistencyTolerance,
	}
}

// Validate checks if the configuration is usable.
func (c ConsistencyConfig) Validate() error {
	if c.Window < 1 {
		return fmt.Errorf("consistency window must be at least 1, got %d", c.Window)
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("consistency tolerance must be non-negative, got %d", c.Tolerance)
	}
	return nil
}

// ConsistencyTracker remembers the peak positions of the last Window frames
// and reports which peaks of the newest frame appear, within Tolerance, in
// every other frame of the window.
type ConsistencyTracker struct {
	cfg ConsistencyConfig

	ring  [][]int // sorted peak sets, oldest first once full
	head  int     // next slot to overwrite
	count int

	consistent []int
}

// NewConsistencyTracker validates cfg and returns an empty tracker.
func NewConsistencyTracker(cfg ConsistencyConfig) (*ConsistencyTracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ConsistencyTracker{
		cfg:  cfg,
		ring: make([][]int, cfg.Window),
	}, nil
}

// Config returns the tracker configuration.
func (t *ConsistencyTracker) Config() ConsistencyConfig { return t.cfg }

// Peaks returns the ascending indices whose sample value reaches the
// threshold.
func (t *ConsistencyTracker) Peaks(samples []uint16) []int {
	var peaks []int
	for i, v := range samples {
		if v >= t.cfg.Threshold {
			peaks = append(peaks, i)
		}
	}
	return peaks
}

// Update extracts the peak set of samples and folds it into the window. It
// returns the sorted consistent indices of the newest frame, or nil until
// the window has filled.
func (t *ConsistencyTracker) Update(samples []uint16) []int {
	return t.push(t.Peaks(samples))
}

// UpdatePeaks folds a precomputed peak set into the window. The slice is
// copied.
func (t *ConsistencyTracker) UpdatePeaks(peaks []int) []int {
	p := slices.Clone(peaks)
	slices.Sort(p)
	return t.push(p)
}

// Consistent returns the result of the most recent update.
func (t *ConsistencyTracker) Consistent() []int {
	return slices.Clone(t.consistent)
}

// Filled reports whether the window holds Window frames.
func (t *ConsistencyTracker) Filled() bool { return t.count == t.cfg.Window }

func (t *ConsistencyTracker) push(peaks []int) []int {
	newest := t.head
	t.ring[newest] = peaks
	t.head = (t.head + 1) % t.cfg.Window
	if t.count < t.cfg.Window {
		t.count++
	}

	t.consistent = t.consistent[:0]
	if t.count < t.cfg.Window {
		return nil
	}
	for _, i := range peaks {
		if t.presentInAll(i, newest) {
			t.consistent = append(t.consistent, i)
		}
	}
	if len(t.consistent) == 0 {
		return nil
	}
	return slices.Clone(t.consistent)
}

func (t *ConsistencyTracker) presentInAll(i, skip int) bool {
	for slot, older := range t.ring {
		if slot == skip {
			continue
		}
		if !near(older, i, t.cfg.Tolerance) {
			return false
		}
	}
	return true
}

// near reports whether sorted contains a value within tol of i.
func near(sorted []int, i, tol int) bool {
	k := sort.SearchInts(sorted, i-tol)
	return k < len(sorted) && sorted[k] <= i+tol
}
