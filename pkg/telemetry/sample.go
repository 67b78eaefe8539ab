// Package telemetry decodes PureTrack wire records into normalized position
// samples and provides the kinematics helpers derived from them.
package telemetry

import "time"

// Sample is one normalized telemetry observation for one tracked pilot.
// (Key, Timestamp) is unique per persisted sample.
type Sample struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"` // UTC, from the integer epoch field

	Lat float64 `json:"lat"` // Latitude in degrees
	Lon float64 `json:"lon"` // Longitude in degrees

	Course      *float64 `json:"course,omitempty"`       // Course in degrees 0-360
	Speed       *float64 `json:"speed,omitempty"`        // Speed in m/s, reported or derived
	VSpeed      *float64 `json:"v_speed,omitempty"`      // Vertical speed in m/s
	AltGPS      *float64 `json:"alt_gps,omitempty"`      // GPS altitude in meters
	GroundLevel *float64 `json:"ground_level,omitempty"` // Terrain elevation at this point in meters

	SourceType string `json:"source_type,omitempty"` // Human-readable source label
	TrackerUID string `json:"tracker_uid,omitempty"`
	Label      string `json:"label,omitempty"`
	Name       string `json:"name,omitempty"`

	// LocalTime is a display-only rendering of Timestamp. Comparisons always
	// use Timestamp.
	LocalTime string `json:"local_time,omitempty"`

	// Extra holds mapped passthrough fields that are decoded as plain strings.
	Extra map[string]string `json:"extra,omitempty"`
}

// AboveGround returns the altitude above the local terrain surface, when both
// the GPS altitude and the ground level are known.
func (s Sample) AboveGround() (float64, bool) {
	if s.AltGPS == nil || s.GroundLevel == nil {
		return 0, false
	}
	return *s.AltGPS - *s.GroundLevel, true
}

// HasSpeed reports whether the sample carries a speed, reported or derived.
func (s Sample) HasSpeed() bool {
	return s.Speed != nil
}

// SetSpeed fills in the speed once, used by the ingestion pipeline when the
// source did not report one.
func (s *Sample) SetSpeed(v float64) {
	s.Speed = &v
}
