package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/depth.report/internal/db"
	"github.com/banshee-data/depth.report/internal/monitor"
	"github.com/banshee-data/depth.report/internal/serialmux"
	"github.com/banshee-data/depth.report/internal/sonar/l1frames"
	"github.com/banshee-data/depth.report/internal/sonar/l2echo"
	"github.com/banshee-data/depth.report/internal/sonar/l3track"
	"github.com/banshee-data/depth.report/internal/sonar/pipeline"
)

// DefaultConfigPath is the path to the canonical sounder defaults file.
const DefaultConfigPath = "config/sounder.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// SounderConfig is the daemon configuration. Every field is optional: nil
// fields fall back to the firmware defaults through the Get* accessors, so
// partial files are safe. The frame geometry must match the producer.
type SounderConfig struct {
	// Frame geometry
	NumSamples       *int `json:"num_samples,omitempty"`
	SampleWidthBytes *int `json:"sample_width_bytes,omitempty"`

	// Echo extraction calibration
	CmPerSample         *float64 `json:"cm_per_sample,omitempty"`
	NoiseTail           *int     `json:"noise_tail,omitempty"`
	SearchLimit         *int     `json:"search_limit,omitempty"`
	BlindZoneFactor     *float64 `json:"blind_zone_factor,omitempty"`
	DefaultBlindZoneEnd *int     `json:"default_blind_zone_end,omitempty"`
	QualityMin          *int     `json:"quality_min,omitempty"`

	// Tracking
	EMAAlpha             *float64 `json:"ema_alpha,omitempty"`
	ConsistencyWindow    *int     `json:"consistency_window,omitempty"`
	ConsistencyThreshold *int     `json:"consistency_threshold,omitempty"`
	ConsistencyTolerance *int     `json:"consistency_tolerance,omitempty"`

	// Persistence
	PersistInterval   *string `json:"persist_interval,omitempty"` // duration string like "1s"
	PersistRequireFix *bool   `json:"persist_require_fix,omitempty"`

	// Serial link
	BaudRate       *int    `json:"baud_rate,omitempty"`
	DataBits       *int    `json:"data_bits,omitempty"`
	StopBits       *int    `json:"stop_bits,omitempty"`
	Parity         *string `json:"parity,omitempty"`
	ReadChunkBytes *int    `json:"read_chunk_bytes,omitempty"`

	// Live viewers and debug displays
	SubscriberBuffer *int `json:"subscriber_buffer,omitempty"`
	HistoryFrames    *int `json:"history_frames,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptySounderConfig returns a SounderConfig with all fields set to nil.
func EmptySounderConfig() *SounderConfig {
	return &SounderConfig{}
}

// DefaultSounderConfig returns a config with every field set to its default.
// It matches config/sounder.defaults.json.
func DefaultSounderConfig() *SounderConfig {
	return &SounderConfig{
		NumSamples:           ptrInt(l1frames.DefaultNumSamples),
		SampleWidthBytes:     ptrInt(l1frames.DefaultSampleWidth),
		CmPerSample:          ptrFloat64(l2echo.DefaultCmPerSample),
		NoiseTail:            ptrInt(l2echo.DefaultNoiseTail),
		SearchLimit:          ptrInt(l2echo.DefaultSearchLimit),
		BlindZoneFactor:      ptrFloat64(l2echo.DefaultBlindZoneFactor),
		DefaultBlindZoneEnd:  ptrInt(l2echo.DefaultBlindZoneEnd),
		QualityMin:           ptrInt(pipeline.DefaultQualityMin),
		EMAAlpha:             ptrFloat64(l3track.DefaultAlpha),
		ConsistencyWindow:    ptrInt(l3track.DefaultConsistencyWindow),
		ConsistencyThreshold: ptrInt(l3track.DefaultConsistencyThreshold),
		ConsistencyTolerance: ptrInt(l3track.DefaultConsistencyTolerance),
		PersistInterval:      ptrString(db.DefaultPersistInterval.String()),
		PersistRequireFix:    ptrBool(false),
		BaudRate:             ptrInt(serialmux.DefaultBaudRate),
		DataBits:             ptrInt(8),
		StopBits:             ptrInt(1),
		Parity:               ptrString("N"),
		ReadChunkBytes:       ptrInt(serialmux.DefaultReadSize),
		SubscriberBuffer:     ptrInt(serialmux.DefaultSubscriberBuffer),
		HistoryFrames:        ptrInt(monitor.DefaultHistoryFrames),
	}
}

// LoadSounderConfig loads a SounderConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadSounderConfig(path string) (*SounderConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySounderConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *SounderConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/sonar/pipeline/
	}
	for _, path := range candidates {
		if cfg, err := LoadSounderConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Pipeline
// constants are checked by building the pipeline config, so the rules live
// in one place.
func (c *SounderConfig) Validate() error {
	if q := c.GetQualityMin(); q < 1 || q > 0xFFFF {
		return fmt.Errorf("quality_min must be between 1 and 65535, got %d", q)
	}
	if th := c.GetConsistencyThreshold(); th < 0 || th > 0xFFFF {
		return fmt.Errorf("consistency_threshold must be between 0 and 65535, got %d", th)
	}
	if err := c.PipelineConfig("validate").Validate(); err != nil {
		return err
	}

	if c.PersistInterval != nil && *c.PersistInterval != "" {
		d, err := time.ParseDuration(*c.PersistInterval)
		if err != nil {
			return fmt.Errorf("invalid persist_interval '%s': %w", *c.PersistInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("persist_interval must be positive, got %s", d)
		}
	}

	if _, err := c.PortOptions().Normalise(); err != nil {
		return err
	}
	if c.ReadChunkBytes != nil && *c.ReadChunkBytes <= 0 {
		return fmt.Errorf("read_chunk_bytes must be positive, got %d", *c.ReadChunkBytes)
	}
	if c.SubscriberBuffer != nil && *c.SubscriberBuffer < 0 {
		return fmt.Errorf("subscriber_buffer must be non-negative, got %d", *c.SubscriberBuffer)
	}
	if c.HistoryFrames != nil && *c.HistoryFrames < 2 {
		return fmt.Errorf("history_frames must be at least 2, got %d", *c.HistoryFrames)
	}
	return nil
}

// Effective returns a copy with every field populated, defaults filled in.
func (c *SounderConfig) Effective() *SounderConfig {
	return &SounderConfig{
		NumSamples:           ptrInt(c.GetNumSamples()),
		SampleWidthBytes:     ptrInt(c.GetSampleWidthBytes()),
		CmPerSample:          ptrFloat64(c.GetCmPerSample()),
		NoiseTail:            ptrInt(c.GetNoiseTail()),
		SearchLimit:          ptrInt(c.GetSearchLimit()),
		BlindZoneFactor:      ptrFloat64(c.GetBlindZoneFactor()),
		DefaultBlindZoneEnd:  ptrInt(c.GetDefaultBlindZoneEnd()),
		QualityMin:           ptrInt(c.GetQualityMin()),
		EMAAlpha:             ptrFloat64(c.GetEMAAlpha()),
		ConsistencyWindow:    ptrInt(c.GetConsistencyWindow()),
		ConsistencyThreshold: ptrInt(c.GetConsistencyThreshold()),
		ConsistencyTolerance: ptrInt(c.GetConsistencyTolerance()),
		PersistInterval:      ptrString(c.GetPersistInterval().String()),
		PersistRequireFix:    ptrBool(c.GetPersistRequireFix()),
		BaudRate:             ptrInt(c.GetBaudRate()),
		DataBits:             ptrInt(c.GetDataBits()),
		StopBits:             ptrInt(c.GetStopBits()),
		Parity:               ptrString(c.GetParity()),
		ReadChunkBytes:       ptrInt(c.GetReadChunkBytes()),
		SubscriberBuffer:     ptrInt(c.GetSubscriberBuffer()),
		HistoryFrames:        ptrInt(c.GetHistoryFrames()),
	}
}

// PipelineConfig builds the per-channel pipeline constants.
func (c *SounderConfig) PipelineConfig(channel string) pipeline.Config {
	return pipeline.Config{
		Channel: channel,
		Layout: l1frames.Layout{
			NumSamples:  c.GetNumSamples(),
			SampleWidth: c.GetSampleWidthBytes(),
		},
		Echo: l2echo.Config{
			NoiseTail:           c.GetNoiseTail(),
			SearchLimit:         c.GetSearchLimit(),
			BlindZoneFactor:     c.GetBlindZoneFactor(),
			DefaultBlindZoneEnd: c.GetDefaultBlindZoneEnd(),
			CmPerSample:         c.GetCmPerSample(),
		},
		Consistency: l3track.ConsistencyConfig{
			Window:    c.GetConsistencyWindow(),
			Threshold: uint16(c.GetConsistencyThreshold()),
			Tolerance: c.GetConsistencyTolerance(),
		},
		Alpha:      c.GetEMAAlpha(),
		QualityMin: uint16(c.GetQualityMin()),
	}
}

// PortOptions returns the serial link settings.
func (c *SounderConfig) PortOptions() serialmux.PortOptions {
	return serialmux.PortOptions{
		BaudRate: c.GetBaudRate(),
		DataBits: c.GetDataBits(),
		StopBits: c.GetStopBits(),
		Parity:   c.GetParity(),
	}
}

// GetNumSamples returns the num_samples value or the default.
func (c *SounderConfig) GetNumSamples() int {
	if c.NumSamples == nil {
		return l1frames.DefaultNumSamples
	}
	return *c.NumSamples
}

// GetSampleWidthBytes returns the sample_width_bytes value or the default.
func (c *SounderConfig) GetSampleWidthBytes() int {
	if c.SampleWidthBytes == nil {
		return l1frames.DefaultSampleWidth
	}
	return *c.SampleWidthBytes
}

// GetCmPerSample returns the cm_per_sample value or the default.
func (c *SounderConfig) GetCmPerSample() float64 {
	if c.CmPerSample == nil {
		return l2echo.DefaultCmPerSample
	}
	return *c.CmPerSample
}

// GetNoiseTail returns the noise_tail value or the default.
func (c *SounderConfig) GetNoiseTail() int {
	if c.NoiseTail == nil {
		return l2echo.DefaultNoiseTail
	}
	return *c.NoiseTail
}

// GetSearchLimit returns the search_limit value or the default.
func (c *SounderConfig) GetSearchLimit() int {
	if c.SearchLimit == nil {
		return l2echo.DefaultSearchLimit
	}
	return *c.SearchLimit
}

// GetBlindZoneFactor returns the blind_zone_factor value or the default.
func (c *SounderConfig) GetBlindZoneFactor() float64 {
	if c.BlindZoneFactor == nil {
		return l2echo.DefaultBlindZoneFactor
	}
	return *c.BlindZoneFactor
}

// GetDefaultBlindZoneEnd returns the default_blind_zone_end value or the default.
func (c *SounderConfig) GetDefaultBlindZoneEnd() int {
	if c.DefaultBlindZoneEnd == nil {
		return l2echo.DefaultBlindZoneEnd
	}
	return *c.DefaultBlindZoneEnd
}

// GetQualityMin returns the quality_min value or the default.
func (c *SounderConfig) GetQualityMin() int {
	if c.QualityMin == nil {
		return pipeline.DefaultQualityMin
	}
	return *c.QualityMin
}

// GetEMAAlpha returns the ema_alpha value or the default.
func (c *SounderConfig) GetEMAAlpha() float64 {
	if c.EMAAlpha == nil {
		return l3track.DefaultAlpha
	}
	return *c.EMAAlpha
}

// GetConsistencyWindow returns the consistency_window value or the default.
func (c *SounderConfig) GetConsistencyWindow() int {
	if c.ConsistencyWindow == nil {
		return l3track.DefaultConsistencyWindow
	}
	return *c.ConsistencyWindow
}

// GetConsistencyThreshold returns the consistency_threshold value or the default.
func (c *SounderConfig) GetConsistencyThreshold() int {
	if c.ConsistencyThreshold == nil {
		return l3track.DefaultConsistencyThreshold
	}
	return *c.ConsistencyThreshold
}

// GetConsistencyTolerance returns the consistency_tolerance value or the default.
func (c *SounderConfig) GetConsistencyTolerance() int {
	if c.ConsistencyTolerance == nil {
		return l3track.DefaultConsistencyTolerance
	}
	return *c.ConsistencyTolerance
}

// GetPersistInterval parses and returns the PersistInterval as a time.Duration.
func (c *SounderConfig) GetPersistInterval() time.Duration {
	if c.PersistInterval == nil || *c.PersistInterval == "" {
		return db.DefaultPersistInterval
	}
	d, err := time.ParseDuration(*c.PersistInterval)
	if err != nil || d <= 0 {
		return db.DefaultPersistInterval // default on parse error
	}
	return d
}

// GetPersistRequireFix returns the persist_require_fix value or the default.
func (c *SounderConfig) GetPersistRequireFix() bool {
	if c.PersistRequireFix == nil {
		return false
	}
	return *c.PersistRequireFix
}

// GetBaudRate returns the baud_rate value or the default.
func (c *SounderConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return serialmux.DefaultBaudRate
	}
	return *c.BaudRate
}

// GetDataBits returns the data_bits value or the default.
func (c *SounderConfig) GetDataBits() int {
	if c.DataBits == nil {
		return 8
	}
	return *c.DataBits
}

// GetStopBits returns the stop_bits value or the default.
func (c *SounderConfig) GetStopBits() int {
	if c.StopBits == nil {
		return 1
	}
	return *c.StopBits
}

// GetParity returns the parity value or the default.
func (c *SounderConfig) GetParity() string {
	if c.Parity == nil {
		return "N"
	}
	return *c.Parity
}

// GetReadChunkBytes returns the read_chunk_bytes value or the default.
func (c *SounderConfig) GetReadChunkBytes() int {
	if c.ReadChunkBytes == nil {
		return serialmux.DefaultReadSize
	}
	return *c.ReadChunkBytes
}

// GetSubscriberBuffer returns the subscriber_buffer value or the default.
func (c *SounderConfig) GetSubscriberBuffer() int {
	if c.SubscriberBuffer == nil {
		return serialmux.DefaultSubscriberBuffer
	}
	return *c.SubscriberBuffer
}

// GetHistoryFrames returns the history_frames value or the default.
func (c *SounderConfig) GetHistoryFrames() int {
	if c.HistoryFrames == nil {
		return monitor.DefaultHistoryFrames
	}
	return *c.HistoryFrames
}
