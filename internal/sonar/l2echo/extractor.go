package l2echo

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Speed of sound in air and the firmware's sample period give the
// centimetres covered by one sample index on the round trip.
const (
	SpeedOfSoundMps = 330.0
	SamplePeriodSec = 13.2e-6

	DefaultCmPerSample     = SpeedOfSoundMps * SamplePeriodSec * 100 / 2 // 0.2178
	DefaultNoiseTail       = 100
	DefaultSearchLimit     = 500
	DefaultBlindZoneFactor = 1.2
	DefaultBlindZoneEnd    = 150
	NoReflection           = -1
)

// ErrInvalidConfig wraps every Config validation failure.
var ErrInvalidConfig = errors.New("invalid echo extractor config")

// Config holds the calibration constants of the extractor. They are injected,
// never discovered at runtime.
type Config struct {
	NoiseTail           int     // Trailing samples averaged for the noise floor (default: 100)
	SearchLimit         int     // Upper bound of the blind-zone search (default: 500)
	BlindZoneFactor     float64 // Noise floor multiplier ending the blind zone (default: 1.2)
	DefaultBlindZoneEnd int     // Fallback when ringdown never decays (default: 150)
	CmPerSample         float64 // Distance per sample index (default: 0.2178)
}

// DefaultConfig returns the constants used by the shield firmware at 13.2 µs
// per sample.
func DefaultConfig() Config {
	return Config{
		NoiseTail:           DefaultNoiseTail,
		SearchLimit:         DefaultSearchLimit,
		BlindZoneFactor:     DefaultBlindZoneFactor,
		DefaultBlindZoneEnd: DefaultBlindZoneEnd,
		CmPerSample:         DefaultCmPerSample,
	}
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.NoiseTail <= 0 {
		return fmt.Errorf("%w: NoiseTail must be positive, got %d", ErrInvalidConfig, c.NoiseTail)
	}
	if c.SearchLimit <= 0 {
		return fmt.Errorf("%w: SearchLimit must be positive, got %d", ErrInvalidConfig, c.SearchLimit)
	}
	if c.BlindZoneFactor <= 0 {
		return fmt.Errorf("%w: BlindZoneFactor must be positive, got %f", ErrInvalidConfig, c.BlindZoneFactor)
	}
	if c.DefaultBlindZoneEnd < 0 {
		return fmt.Errorf("%w: DefaultBlindZoneEnd must be non-negative, got %d", ErrInvalidConfig, c.DefaultBlindZoneEnd)
	}
	if c.CmPerSample <= 0 {
		return fmt.Errorf("%w: CmPerSample must be positive, got %f", ErrInvalidConfig, c.CmPerSample)
	}
	return nil
}

// Reflection is the per-frame echo estimate. Index is NoReflection when no
// sample beyond the blind zone rose above zero.
type Reflection struct {
	Value        uint16
	Index        int
	DistanceCm   float64
	BlindZoneEnd int
	NoiseFloor   float64
}

// Found reports whether a reflection was located.
func (r Reflection) Found() bool { return r.Index != NoReflection }

// Extractor turns a frame's sample array into a Reflection. It holds a
// scratch buffer and must not be shared between goroutines.
type Extractor struct {
	cfg     Config
	scratch []float64
}

// NewExtractor validates cfg and returns an extractor.
func NewExtractor(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{cfg: cfg, scratch: make([]float64, cfg.NoiseTail)}, nil
}

// Config returns the extractor's calibration constants.
func (e *Extractor) Config() Config { return e.cfg }

// Extract locates the strongest reflection after the blind zone. It never
// fails: degenerate input yields a Reflection with Index NoReflection.
func (e *Extractor) Extract(samples []uint16) Reflection {
	r := Reflection{Index: NoReflection}
	r.NoiseFloor = e.NoiseFloor(samples)
	r.BlindZoneEnd = e.BlindZoneEnd(samples, r.NoiseFloor)

	for i := r.BlindZoneEnd; i < len(samples); i++ {
		if samples[i] > r.Value {
			r.Value = samples[i]
			r.Index = i
		}
	}
	if r.Index != NoReflection {
		r.DistanceCm = float64(r.Index) * e.cfg.CmPerSample
	}
	return r
}

// NoiseFloor is the mean of the trailing NoiseTail samples, or 0 when the
// frame is shorter than the tail.
func (e *Extractor) NoiseFloor(samples []uint16) float64 {
	n := e.cfg.NoiseTail
	if len(samples) < n {
		return 0
	}
	tail := samples[len(samples)-n:]
	for i, v := range tail {
		e.scratch[i] = float64(v)
	}
	return stat.Mean(e.scratch[:n], nil)
}

// BlindZoneEnd returns the first index within the search window whose value
// has decayed to the noise threshold. When the ringdown never decays the
// configured default is returned.
func (e *Extractor) BlindZoneEnd(samples []uint16, noiseFloor float64) int {
	limit := min(e.cfg.SearchLimit, len(samples))
	threshold := noiseFloor * e.cfg.BlindZoneFactor
	for i := 0; i < limit; i++ {
		if float64(samples[i]) <= threshold {
			return i
		}
	}
	return e.cfg.DefaultBlindZoneEnd
}
