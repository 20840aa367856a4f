package monitor

import (
	"fmt"
	"slices"
	"strings"

	"github.com/banshee-data/depth.report/internal/sonar/pipeline"
)

const (
	consoleCellWidth        = 4
	DefaultConsoleColumns   = 25
	consoleInconsistentCell = " .  "
	consoleBackgroundCell   = "    "
)

// HighlightSamples renders one frame the way the bench console does: samples
// at or above threshold that are consistent across the window show their
// value, other strong samples show a dot, the rest are blank. Each sample
// takes four characters; lines wrap after columns samples.
func HighlightSamples(samples []uint16, consistent []int, threshold uint16, columns int) string {
	if columns <= 0 {
		columns = DefaultConsoleColumns
	}
	var b strings.Builder
	b.Grow(len(samples)*consoleCellWidth + len(samples)/columns + 1)
	for i, v := range samples {
		if i > 0 && i%columns == 0 {
			b.WriteByte('\n')
		}
		switch {
		case v >= threshold && isConsistent(consistent, i):
			fmt.Fprintf(&b, "%4d", v)
		case v >= threshold:
			b.WriteString(consoleInconsistentCell)
		default:
			b.WriteString(consoleBackgroundCell)
		}
	}
	return b.String()
}

// consistent is sorted ascending.
func isConsistent(consistent []int, i int) bool {
	_, found := slices.BinarySearch(consistent, i)
	return found
}

// ConsoleFrame renders the header and highlighted samples for one frame.
func ConsoleFrame(res pipeline.FrameResult, threshold uint16, columns int) string {
	var b strings.Builder
	md := res.Frame.Metadata
	b.WriteString(strings.Repeat("=", 100))
	fmt.Fprintf(&b, "\nTime: %s | Depth: %.1f cm | Peak: %d @ %d | Temp: %.1f °C | Vdrv: %.1f V\n",
		res.Timestamp.Format("15:04:05.000"), res.SmoothedCm, res.Reflection.Value, res.Reflection.Index,
		md.TemperatureC(), md.DriveVoltageV())
	b.WriteString(strings.Repeat("-", 100))
	b.WriteString("\nConsistent Peaks (Value shown) | Inconsistent Peaks (.) | Background ( )\n")
	b.WriteString(HighlightSamples(res.Frame.Samples, res.Consistent, threshold, columns))
	b.WriteByte('\n')
	return b.String()
}
