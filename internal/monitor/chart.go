package monitor

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/depth.report/internal/sonar/pipeline"
)

// echartsAssetsHost serves the echarts javascript for the debug pages.
const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// RenderDepthChart writes an HTML line chart of raw and smoothed depth over
// the given frames. Rejected frames leave gaps in the raw series.
func RenderDepthChart(w io.Writer, frames []pipeline.FrameResult, channel string) error {
	if len(frames) == 0 {
		return fmt.Errorf("%w: have 0, need 1", ErrNotEnoughFrames)
	}

	xs := make([]string, 0, len(frames))
	raw := make([]opts.LineData, 0, len(frames))
	smoothed := make([]opts.LineData, 0, len(frames))
	peaks := make([]opts.LineData, 0, len(frames))
	for _, f := range frames {
		xs = append(xs, f.Timestamp.Format("15:04:05.000"))
		if f.Accepted {
			raw = append(raw, opts.LineData{Value: f.Reflection.DistanceCm})
		} else {
			raw = append(raw, opts.LineData{Value: "-"})
		}
		smoothed = append(smoothed, opts.LineData{Value: f.SmoothedCm})
		peaks = append(peaks, opts.LineData{Value: f.Reflection.Value})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Depth", Theme: "dark", Width: "100%", Height: "600px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Depth", Subtitle: fmt.Sprintf("channel=%s frames=%d", channel, len(frames))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "cm"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	line.SetXAxis(xs).
		AddSeries("raw", raw).
		AddSeries("smoothed", smoothed).
		AddSeries("peak value", peaks)

	return line.Render(w)
}
