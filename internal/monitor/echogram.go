package monitor

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/depth.report/internal/sonar/pipeline"
)

// ErrNotEnoughFrames is returned when a plot needs more history than is
// held.
var ErrNotEnoughFrames = errors.New("monitor: not enough frames")

const (
	// maxEchogramRows caps the vertical resolution; samples are max-pooled
	// into bins to fit.
	maxEchogramRows = 300
	paletteSize     = 64
)

// echogramGrid adapts a frame history to plotter.GridXYZ. Columns are
// frames, oldest first; rows are depth bins.
type echogramGrid struct {
	frames      []pipeline.FrameResult
	rows        int
	bin         int
	cmPerSample float64
}

func newEchogramGrid(frames []pipeline.FrameResult, cmPerSample float64) echogramGrid {
	n := 0
	for _, f := range frames {
		n = max(n, len(f.Frame.Samples))
	}
	bin := (n + maxEchogramRows - 1) / maxEchogramRows
	bin = max(bin, 1)
	return echogramGrid{
		frames:      frames,
		rows:        (n + bin - 1) / bin,
		bin:         bin,
		cmPerSample: cmPerSample,
	}
}

func (g echogramGrid) Dims() (c, r int) { return len(g.frames), g.rows }

func (g echogramGrid) Z(c, r int) float64 {
	samples := g.frames[c].Frame.Samples
	var peak uint16
	for i := r * g.bin; i < min((r+1)*g.bin, len(samples)); i++ {
		peak = max(peak, samples[i])
	}
	return float64(peak)
}

func (g echogramGrid) X(c int) float64 { return float64(c) }

// Y is the depth in metres at the centre of bin r.
func (g echogramGrid) Y(r int) float64 {
	centre := float64(r*g.bin) + float64(g.bin-1)/2
	return centre * g.cmPerSample / 100
}

// RenderEchogram writes a PNG waterfall of the given frames: time on the x
// axis, depth on the y axis, amplitude as colour. Accepted smoothed depths
// are overlaid as a line.
func RenderEchogram(w io.Writer, frames []pipeline.FrameResult, cmPerSample float64, width, height vg.Length) error {
	if len(frames) < 2 {
		return fmt.Errorf("%w: have %d, need 2", ErrNotEnoughFrames, len(frames))
	}
	grid := newEchogramGrid(frames, cmPerSample)
	if grid.rows < 2 {
		return fmt.Errorf("%w: frames carry %d depth bins", ErrNotEnoughFrames, grid.rows)
	}

	p := plot.New()
	p.Title.Text = "Echogram"
	p.X.Label.Text = "Time (frames)"
	p.Y.Label.Text = "Depth (m)"

	hm := plotter.NewHeatMap(grid, palette.Heat(paletteSize, 1))
	hm.Rasterized = true
	hm.NaN = color.Black
	if hm.Max <= hm.Min {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	var track plotter.XYs
	for i, f := range frames {
		if f.Accepted {
			track = append(track, plotter.XY{X: float64(i), Y: f.SmoothedCm / 100})
		}
	}
	if len(track) > 0 {
		line, err := plotter.NewLine(track)
		if err != nil {
			return fmt.Errorf("depth overlay: %w", err)
		}
		line.Color = color.RGBA{R: 0, G: 200, B: 255, A: 255}
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add("smoothed depth", line)
	}

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("render echogram: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
