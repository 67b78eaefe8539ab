package flight

// State is one of the closed set of pilot flight statuses.
type State string

const (
	StateInitial           State = "initial"
	StateUnknown           State = "unknown"
	StateFlying            State = "flying"
	StateAwaitingClearance State = "awaiting_clearance"
	StateLanded            State = "landed"
	StateDisconnected      State = "disconnected"
	StateAlert             State = "alert"
)

// Trigger drives a state transition. Triggers not recognized for the current
// state are ignored, never errors: the machine tolerates stale or redundant
// refresh data.
type Trigger string

const (
	TriggerInit           Trigger = "init"
	TriggerCheck          Trigger = "check"
	TriggerConnected      Trigger = "connected"
	TriggerDisconnected   Trigger = "disconnected"
	TriggerTimeout        Trigger = "timeout"
	TriggerSpeedStopped   Trigger = "speed_stopped"
	TriggerSpeedExcessive Trigger = "speed_excessive"
	TriggerResumeFlight   Trigger = "resume_flight"
	TriggerConfirmed      Trigger = "confirmed"
)

// Thresholds are the speed and altitude limits, in m/s and meters, that
// classify a pilot's motion.
type Thresholds struct {
	Moving     float64 `yaml:"moving" json:"moving"`         // above: pilot is flying (~10 km/h)
	Excessive  float64 `yaml:"excessive" json:"excessive"`   // above: dangerously fast (~60 km/h)
	Stopped    float64 `yaml:"stopped" json:"stopped"`       // below: candidate landing (~2 km/h)
	LandingAGL float64 `yaml:"landing_agl" json:"landing_agl"` // stopped only counts below this height above ground
}

// DefaultThresholds returns the standard motion classification limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Moving:     2.78,
		Excessive:  16.67,
		Stopped:    0.56,
		LandingAGL: 60,
	}
}

type rule struct {
	dst   State
	guard func(currentSpeed float64, th Thresholds) bool
}

func isMoving(speed float64, th Thresholds) bool {
	return speed > th.Moving
}

func notMoving(speed float64, th Thresholds) bool {
	return !isMoving(speed, th)
}

// transitions is the closed transition table: (state, trigger) to an ordered
// list of candidate rules, first passing guard wins.
var transitions = map[State]map[Trigger][]rule{
	StateInitial: {
		TriggerInit: {{dst: StateUnknown}},
	},
	StateUnknown: {
		TriggerCheck: {
			{dst: StateFlying, guard: isMoving},
			{dst: StateAwaitingClearance, guard: notMoving},
		},
	},
	StateFlying: {
		TriggerSpeedStopped:   {{dst: StateAwaitingClearance}},
		TriggerSpeedExcessive: {{dst: StateAlert}},
		TriggerDisconnected:   {{dst: StateDisconnected}},
	},
	StateAwaitingClearance: {
		TriggerConfirmed: {{dst: StateLanded}},
		TriggerTimeout:   {{dst: StateAlert}},
	},
	StateLanded: {
		TriggerResumeFlight: {{dst: StateFlying}},
	},
	StateDisconnected: {
		TriggerConnected: {{dst: StateUnknown}},
		TriggerTimeout:   {{dst: StateAlert}},
	},
	StateAlert: {
		TriggerConfirmed: {{dst: StateLanded}},
		TriggerTimeout:   {{dst: StateAlert}}, // re-escalation
	},
}

// Next evaluates the transition table for (state, trigger). currentSpeed
// feeds the is-moving guard of the Unknown entry check. The second return is
// false when the trigger is not recognized for the state.
func Next(s State, tr Trigger, currentSpeed float64, th Thresholds) (State, bool) {
	rules, ok := transitions[s][tr]
	if !ok {
		return s, false
	}
	for _, r := range rules {
		if r.guard == nil || r.guard(currentSpeed, th) {
			return r.dst, true
		}
	}
	return s, false
}
