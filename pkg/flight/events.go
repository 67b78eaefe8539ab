// Package flight implements the per-pilot status state machine driven by
// periodic telemetry refreshes and asynchronous confirmations.
package flight

import "time"

// EventKind identifies an externally visible signal emitted by a pilot's
// state machine.
type EventKind string

const (
	// EventClearanceRequest asks the pilot to confirm a detected landing.
	EventClearanceRequest EventKind = "clearance_request"
	// EventAlert escalates an unanswered clearance request or a dangerous
	// flight condition to the guardians.
	EventAlert EventKind = "alert"
	// EventLandingConfirmed reports a landing acknowledged by the pilot.
	EventLandingConfirmed EventKind = "landing_confirmed"
	// EventDisconnected reports a pilot whose telemetry went stale mid-flight.
	// Mirrored for observers, no prompt is sent.
	EventDisconnected EventKind = "disconnected"
)

// Event is one signal emitted on a state transition. It carries copies of the
// pilot identity so consumers never touch the pilot's mutable state.
type Event struct {
	Kind      EventKind `json:"kind"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	DiscordID string    `json:"discord_id,omitempty"`
	State     State     `json:"state"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	At        time.Time `json:"at"`
}
