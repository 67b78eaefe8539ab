package flight

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNext(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name    string
		state   State
		trigger Trigger
		speed   float64
		want    State
		ok      bool
	}{
		{name: "init", state: StateInitial, trigger: TriggerInit, want: StateUnknown, ok: true},
		{name: "check moving", state: StateUnknown, trigger: TriggerCheck, speed: 5, want: StateFlying, ok: true},
		{name: "check not moving", state: StateUnknown, trigger: TriggerCheck, speed: 0, want: StateAwaitingClearance, ok: true},
		{name: "check at threshold is not moving", state: StateUnknown, trigger: TriggerCheck, speed: 2.78, want: StateAwaitingClearance, ok: true},
		{name: "stopped while flying", state: StateFlying, trigger: TriggerSpeedStopped, want: StateAwaitingClearance, ok: true},
		{name: "excessive while flying", state: StateFlying, trigger: TriggerSpeedExcessive, want: StateAlert, ok: true},
		{name: "signal lost while flying", state: StateFlying, trigger: TriggerDisconnected, want: StateDisconnected, ok: true},
		{name: "clearance confirmed", state: StateAwaitingClearance, trigger: TriggerConfirmed, want: StateLanded, ok: true},
		{name: "clearance timed out", state: StateAwaitingClearance, trigger: TriggerTimeout, want: StateAlert, ok: true},
		{name: "alert confirmed", state: StateAlert, trigger: TriggerConfirmed, want: StateLanded, ok: true},
		{name: "alert re-escalates", state: StateAlert, trigger: TriggerTimeout, want: StateAlert, ok: true},
		{name: "reconnect", state: StateDisconnected, trigger: TriggerConnected, want: StateUnknown, ok: true},
		{name: "disconnected times out", state: StateDisconnected, trigger: TriggerTimeout, want: StateAlert, ok: true},
		{name: "takeoff after landing", state: StateLanded, trigger: TriggerResumeFlight, want: StateFlying, ok: true},
		{name: "unknown trigger ignored", state: StateFlying, trigger: TriggerConfirmed, want: StateFlying, ok: false},
		{name: "timeout ignored while flying", state: StateFlying, trigger: TriggerTimeout, want: StateFlying, ok: false},
		{name: "stale data ignored when landed", state: StateLanded, trigger: TriggerSpeedStopped, want: StateLanded, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Next(tt.state, tt.trigger, tt.speed, th)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
