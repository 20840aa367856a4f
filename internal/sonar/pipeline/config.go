package pipeline

import (
	"errors"
	"fmt"

	"github.com/banshee-data/depth.report/internal/sonar/l1frames"
	"github.com/banshee-data/depth.report/internal/sonar/l2echo"
	"github.com/banshee-data/depth.report/internal/sonar/l3track"
)

// DefaultQualityMin is the smallest reflection value that is smoothed and
// disseminated.
const DefaultQualityMin = 50

// ErrConfiguration wraps every startup validation failure. It is the only
// error the pipeline propagates; everything after startup is a counter.
var ErrConfiguration = errors.New("pipeline configuration error")

// Config collects the constants shared out-of-band with the producer and
// the calibration injected at startup.
type Config struct {
	Channel     string
	Layout      l1frames.Layout
	Echo        l2echo.Config
	Consistency l3track.ConsistencyConfig
	Alpha       float64 // EMA weight in (0, 1]
	QualityMin  uint16  // Reflections below this are dropped (default: 50)
}

// DefaultConfig returns the shield defaults for the named channel.
func DefaultConfig(channel string) Config {
	return Config{
		Channel:     channel,
		Layout:      l1frames.DefaultLayout(),
		Echo:        l2echo.DefaultConfig(),
		Consistency: l3track.DefaultConsistencyConfig(),
		Alpha:       l3track.DefaultAlpha,
		QualityMin:  DefaultQualityMin,
	}
}

// Validate checks every constant. Errors wrap ErrConfiguration.
func (c Config) Validate() error {
	if c.Channel == "" {
		return fmt.Errorf("%w: channel name is empty", ErrConfiguration)
	}
	if err := c.Layout.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if err := c.Echo.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if err := c.Consistency.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if !(c.Alpha > 0 && c.Alpha <= 1) {
		return fmt.Errorf("%w: alpha must be in (0, 1], got %f", ErrConfiguration, c.Alpha)
	}
	// A zero threshold would let "no reflection" frames through as 0 cm.
	if c.QualityMin == 0 {
		return fmt.Errorf("%w: quality_min must be at least 1", ErrConfiguration)
	}
	return nil
}
