package monitor

import "github.com/vol-libre/guardian-angel/pkg/telemetry"

// TimeWeightedAverage computes the time-weighted mean speed in m/s over
// samples ordered by ascending timestamp: sum(speed_i * dt_i) / sum(dt_i)
// over strictly positive dt_i. Fewer than two samples yield 0. A sample
// without a speed weighs its interval at zero speed.
func TimeWeightedAverage(samples []telemetry.Sample) float64 {
	if len(samples) < 2 {
		return 0
	}

	var totalTime, weighted float64
	for i := 1; i < len(samples); i++ {
		dt := samples[i].Timestamp.Sub(samples[i-1].Timestamp).Seconds()
		if dt <= 0 {
			continue
		}
		totalTime += dt
		if samples[i].Speed != nil {
			weighted += *samples[i].Speed * dt
		}
	}

	if totalTime == 0 {
		return 0
	}
	return weighted / totalTime
}
