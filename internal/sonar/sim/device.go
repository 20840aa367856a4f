// Package sim is a synthetic TUSS4470 shield. It produces realistic frames
// (transducer ringdown, noise floor, a bottom echo and its first multiple)
// for development without hardware, capture generation and tests.
package sim

import (
	"math"
	"math/rand/v2"

	"github.com/banshee-data/depth.report/internal/sonar/l1frames"
	"github.com/banshee-data/depth.report/internal/sonar/l2echo"
)

// Config describes the simulated scene and link quality.
type Config struct {
	Layout      l1frames.Layout
	CmPerSample float64

	DepthCm      float64 // Mean distance to the reflector
	DriftCm      float64 // Amplitude of a slow sinusoidal depth change
	DriftPeriod  int     // Frames per drift cycle
	EchoPeak     uint16  // Amplitude of the primary echo
	EchoWidth    int     // Half-width of the echo pulse, in samples
	Ringdown     int     // Samples until the ringdown has decayed
	NoiseLevel   uint16  // Maximum background noise amplitude
	DropoutEvery int     // Every Nth frame has no echo; 0 disables

	JunkProbability    float64 // Chance of junk bytes ahead of a frame
	BitFlipProbability float64 // Chance a frame is corrupted by one bit flip

	Seed uint64
}

// DefaultConfig returns a bench setup: a flat reflector about a metre away.
func DefaultConfig() Config {
	return Config{
		Layout:      l1frames.DefaultLayout(),
		CmPerSample: l2echo.DefaultCmPerSample,
		DepthCm:     110,
		DriftCm:     15,
		DriftPeriod: 200,
		EchoPeak:    210,
		EchoWidth:   4,
		Ringdown:    90,
		NoiseLevel:  18,
		Seed:        1,
	}
}

// Device generates frames from a Config. It is not safe for concurrent use.
type Device struct {
	cfg Config
	rng *rand.Rand
	seq int
}

// NewDevice returns a generator; the same Config always yields the same
// byte stream.
func NewDevice(cfg Config) *Device {
	return &Device{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
}

// Layout returns the frame geometry being produced.
func (d *Device) Layout() l1frames.Layout { return d.cfg.Layout }

// EchoIndex returns the sample index of the primary echo for frame seq.
func (d *Device) EchoIndex(seq int) int {
	depth := d.cfg.DepthCm
	if d.cfg.DriftPeriod > 0 {
		depth += d.cfg.DriftCm * math.Sin(2*math.Pi*float64(seq)/float64(d.cfg.DriftPeriod))
	}
	return int(math.Round(depth / d.cfg.CmPerSample))
}

// Next returns the next clean frame.
func (d *Device) Next() l1frames.Frame {
	seq := d.seq
	d.seq++

	n := d.cfg.Layout.NumSamples
	ceiling := uint16(math.MaxUint16)
	if d.cfg.Layout.SampleWidth == 1 {
		ceiling = math.MaxUint8
	}
	s := make([]uint16, n)
	for i := range s {
		v := 0.0
		if d.cfg.NoiseLevel > 0 {
			v = float64(d.rng.IntN(int(d.cfg.NoiseLevel) + 1))
		}
		if d.cfg.Ringdown > 0 && i < 2*d.cfg.Ringdown {
			v += 255 * math.Exp(-3*float64(i)/float64(d.cfg.Ringdown))
		}
		s[i] = uint16(min(v, float64(ceiling)))
	}

	echo := d.EchoIndex(seq)
	dropout := d.cfg.DropoutEvery > 0 && seq%d.cfg.DropoutEvery == d.cfg.DropoutEvery-1
	if !dropout {
		d.pulse(s, echo, float64(d.cfg.EchoPeak), ceiling)
		d.pulse(s, 2*echo, float64(d.cfg.EchoPeak)/3, ceiling)
	}

	return l1frames.Frame{
		Metadata: l1frames.Metadata{
			DepthIndex:         uint16(max0(echo)),
			TemperatureScaled:  int16(2150 + d.rng.IntN(21) - 10),
			DriveVoltageScaled: 1200,
		},
		Samples: s,
	}
}

// pulse adds a triangular echo centred on idx.
func (d *Device) pulse(s []uint16, idx int, peak float64, ceiling uint16) {
	w := max0(d.cfg.EchoWidth)
	for k := -w; k <= w; k++ {
		i := idx + k
		if i < 0 || i >= len(s) {
			continue
		}
		v := peak * (1 - math.Abs(float64(k))/float64(w+1))
		s[i] = uint16(min(float64(s[i])+v, float64(ceiling)))
	}
}

// AppendNext encodes the next frame onto dst, applying the configured junk
// and corruption.
func (d *Device) AppendNext(dst []byte) []byte {
	if d.cfg.JunkProbability > 0 && d.rng.Float64() < d.cfg.JunkProbability {
		n := 1 + d.rng.IntN(64)
		for range n {
			dst = append(dst, byte(d.rng.IntN(256)))
		}
	}
	start := len(dst)
	dst = d.cfg.Layout.AppendFrame(dst, d.Next())
	if d.cfg.BitFlipProbability > 0 && d.rng.Float64() < d.cfg.BitFlipProbability {
		body := dst[start+l1frames.HeaderSize : len(dst)-l1frames.ChecksumSize]
		body[d.rng.IntN(len(body))] ^= 1 << d.rng.IntN(8)
	}
	return dst
}

func max0(v int) int { return max(v, 0) }
