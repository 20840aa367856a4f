// Package record defines the per-frame output of the sonar pipeline and its
// consumer-facing encodings.
package record

import (
	"encoding/json"
	"math"
	"time"

	"github.com/banshee-data/depth.report/internal/gps"
	"github.com/banshee-data/depth.report/internal/sonar/l1frames"
	"github.com/banshee-data/depth.report/internal/sonar/l2echo"
)

// OutputRecord is created once per accepted frame and handed to the sink.
// Sinks own it afterwards; the pipeline keeps no reference except a copy
// for Latest.
type OutputRecord struct {
	Timestamp          time.Time // UTC
	Channel            string
	SessionID          string
	Reflection         l2echo.Reflection
	SmoothedDistanceCm float64
	RawDistanceCm      float64
	Fix                *gps.Fix // nil when no location was available
	Metadata           l1frames.Metadata
	Consistent         []int
}

// PeakValue is the reflection amplitude clamped to a byte, the range
// consumers are promised.
func (r OutputRecord) PeakValue() uint8 {
	return uint8(min(r.Reflection.Value, math.MaxUint8))
}

// SmoothedMillimetres is the smoothed distance rounded to whole millimetres
// and clamped to the u16 range used by the compact encodings.
func (r OutputRecord) SmoothedMillimetres() uint16 {
	return clampMM(r.SmoothedDistanceCm)
}

func clampMM(cm float64) uint16 {
	mm := math.Round(cm * 10)
	switch {
	case math.IsNaN(mm) || mm <= 0:
		return 0
	case mm >= math.MaxUint16:
		return math.MaxUint16
	default:
		return uint16(mm)
	}
}

// LocationFix is the {lat, lon} pair in the JSON encoding.
type LocationFix struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Wire is the JSON shape of an OutputRecord. Distances are centimetres
// unless Units says otherwise.
type Wire struct {
	TimestampUTC      time.Time    `json:"timestamp_utc"`
	Channel           string       `json:"channel"`
	SessionID         string       `json:"session_id,omitempty"`
	PeakValue         uint8        `json:"peak_value"`
	PeakIndex         int          `json:"peak_index"`
	DistanceCm        float64      `json:"distance_cm"`
	DistanceCmRaw     float64      `json:"distance_cm_raw"`
	BlindZoneEnd      int          `json:"blind_zone_end"`
	NoiseFloor        float64      `json:"noise_floor"`
	TemperatureC      float64      `json:"temperature_c"`
	DriveVoltageV     float64      `json:"drive_voltage_v"`
	ConsistentIndices []int        `json:"consistent_indices"`
	LocationFix       *LocationFix `json:"location_fix"`
	Units             string       `json:"units,omitempty"`
	Distance          *float64     `json:"distance,omitempty"`
}

// Wire converts the record to its JSON shape.
func (r OutputRecord) Wire() Wire {
	w := Wire{
		TimestampUTC:      r.Timestamp.UTC(),
		Channel:           r.Channel,
		SessionID:         r.SessionID,
		PeakValue:         r.PeakValue(),
		PeakIndex:         r.Reflection.Index,
		DistanceCm:        r.SmoothedDistanceCm,
		DistanceCmRaw:     r.RawDistanceCm,
		BlindZoneEnd:      r.Reflection.BlindZoneEnd,
		NoiseFloor:        r.Reflection.NoiseFloor,
		TemperatureC:      r.Metadata.TemperatureC(),
		DriveVoltageV:     r.Metadata.DriveVoltageV(),
		ConsistentIndices: r.Consistent,
	}
	if w.ConsistentIndices == nil {
		w.ConsistentIndices = []int{}
	}
	if r.Fix != nil {
		w.LocationFix = &LocationFix{Lat: r.Fix.Lat, Lon: r.Fix.Lon}
	}
	return w
}

// MarshalJSON encodes the record in its Wire shape.
func (r OutputRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Wire())
}
