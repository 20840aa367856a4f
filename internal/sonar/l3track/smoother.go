package l3track

import "fmt"

// DefaultAlpha weights the newest distance in the moving average.
const DefaultAlpha = 0.3

// Smoother is an exponential moving average over distances in centimetres.
// The zero value is not usable; construct with NewSmoother.
type Smoother struct {
	alpha  float64
	last   float64
	primed bool
}

// NewSmoother returns a smoother with the given weight, which must lie in
// (0, 1]. An alpha of 1 disables smoothing.
func NewSmoother(alpha float64) (*Smoother, error) {
	if !(alpha > 0 && alpha <= 1) {
		return nil, fmt.Errorf("alpha must be in (0, 1], got %f", alpha)
	}
	return &Smoother{alpha: alpha}, nil
}

// Smooth folds raw into the running average and returns the new value. The
// first call returns raw unchanged and primes the state.
func (s *Smoother) Smooth(raw float64) float64 {
	if !s.primed {
		s.last = raw
		s.primed = true
		return raw
	}
	s.last = s.alpha*raw + (1-s.alpha)*s.last
	return s.last
}

// Last returns the most recent smoothed value and whether any value has been
// seen yet.
func (s *Smoother) Last() (float64, bool) {
	return s.last, s.primed
}

// Alpha returns the smoothing weight.
func (s *Smoother) Alpha() float64 { return s.alpha }
