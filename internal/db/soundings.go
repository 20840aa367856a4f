package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/depth.report/internal/sonar/record"
)

// DefaultRecentLimit bounds RecentSoundings when the caller passes 0.
const DefaultRecentLimit = 100

// Sounding is one persisted record.
type Sounding struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"session_id"`
	Channel       string    `json:"channel"`
	Timestamp     time.Time `json:"timestamp_utc"`
	PeakValue     int       `json:"peak_value"`
	PeakIndex     int       `json:"peak_index"`
	DistanceCm    float64   `json:"distance_cm"`
	DistanceCmRaw float64   `json:"distance_cm_raw"`
	BlindZoneEnd  int       `json:"blind_zone_end"`
	NoiseFloor    float64   `json:"noise_floor"`
	TemperatureC  float64   `json:"temperature_c"`
	DriveVoltageV float64   `json:"drive_voltage_v"`
	Latitude      *float64  `json:"latitude"`
	Longitude     *float64  `json:"longitude"`
}

// RecordSounding inserts one accepted record.
func (db *DB) RecordSounding(r record.OutputRecord) error {
	var lat, lon sql.NullFloat64
	if r.Fix != nil {
		lat = sql.NullFloat64{Float64: r.Fix.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: r.Fix.Lon, Valid: true}
	}
	_, err := db.Exec(
		`INSERT INTO soundings (
			session_id, channel, timestamp_unix_ms, peak_value, peak_index,
			distance_cm, distance_cm_raw, blind_zone_end, noise_floor,
			temperature_c, drive_voltage_v, latitude, longitude
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.Channel, r.Timestamp.UnixMilli(), int(r.PeakValue()), r.Reflection.Index,
		r.SmoothedDistanceCm, r.RawDistanceCm, r.Reflection.BlindZoneEnd, r.Reflection.NoiseFloor,
		r.Metadata.TemperatureC(), r.Metadata.DriveVoltageV(), lat, lon,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sounding: %w", err)
	}
	return nil
}

// RecentSoundings returns up to limit soundings, newest first.
func (db *DB) RecentSoundings(limit int) ([]Sounding, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := db.Query(`SELECT id, session_id, channel, timestamp_unix_ms, peak_value, peak_index,
			distance_cm, distance_cm_raw, blind_zone_end, noise_floor,
			temperature_c, drive_voltage_v, latitude, longitude
		FROM soundings ORDER BY timestamp_unix_ms DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	soundings := []Sounding{}
	for rows.Next() {
		var (
			s        Sounding
			tsMillis int64
			lat, lon sql.NullFloat64
		)
		if err := rows.Scan(
			&s.ID, &s.SessionID, &s.Channel, &tsMillis, &s.PeakValue, &s.PeakIndex,
			&s.DistanceCm, &s.DistanceCmRaw, &s.BlindZoneEnd, &s.NoiseFloor,
			&s.TemperatureC, &s.DriveVoltageV, &lat, &lon,
		); err != nil {
			return nil, err
		}
		s.Timestamp = time.UnixMilli(tsMillis).UTC()
		if lat.Valid && lon.Valid {
			s.Latitude = &lat.Float64
			s.Longitude = &lon.Float64
		}
		soundings = append(soundings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return soundings, nil
}

// CountSoundings returns the number of persisted soundings.
func (db *DB) CountSoundings() (int64, error) {
	var n int64
	if err := db.QueryRow("SELECT COUNT(*) FROM soundings").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
