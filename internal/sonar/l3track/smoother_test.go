package l3track

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSmoother_RejectsAlpha(t *testing.T) {
	for _, a := range []float64{0, -0.1, 1.01, math.NaN()} {
		_, err := NewSmoother(a)
		assert.Error(t, err, "alpha %v", a)
	}
	for _, a := range []float64{0.01, 0.3, 1} {
		_, err := NewSmoother(a)
		assert.NoError(t, err, "alpha %v", a)
	}
}

func TestSmoother_FirstCallReturnsInput(t *testing.T) {
	s, err := NewSmoother(0.2)
	require.NoError(t, err)

	_, primed := s.Last()
	assert.False(t, primed)
	assert.Equal(t, 123.4, s.Smooth(123.4))

	last, primed := s.Last()
	assert.True(t, primed)
	assert.Equal(t, 123.4, last)
}

func TestSmoother_Weighting(t *testing.T) {
	s, err := NewSmoother(0.25)
	require.NoError(t, err)
	s.Smooth(100)
	assert.InDelta(t, 0.25*200+0.75*100, s.Smooth(200), 1e-12)
}

func TestSmoother_ConvergesToConstant(t *testing.T) {
	s, err := NewSmoother(DefaultAlpha)
	require.NoError(t, err)
	s.Smooth(0)
	var got float64
	for i := 0; i < 200; i++ {
		got = s.Smooth(42.5)
	}
	assert.InDelta(t, 42.5, got, 1e-9)
}

func TestSmoother_AlphaOneTracksInput(t *testing.T) {
	s, err := NewSmoother(1)
	require.NoError(t, err)
	for _, v := range []float64{10, 50, 3, 99} {
		assert.Equal(t, v, s.Smooth(v))
	}
}
