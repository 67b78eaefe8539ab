// Package monitor runs the fixed-period polling loop: ingestion of raw
// telemetry into the history store, per-pilot state refresh, and retention
// purge.
package monitor

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the monitoring loop's Prometheus collectors.
type Metrics struct {
	CycleDuration   prometheus.Histogram
	CycleOverruns   prometheus.Counter
	SamplesIngested prometheus.Counter
	FetchErrors     prometheus.Counter
	SamplesPurged   prometheus.Counter
	PilotState      *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "guardian_cycle_duration_seconds",
			Help:    "Wall time of one monitoring cycle",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30},
		}),
		CycleOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardian_cycle_overruns_total",
			Help: "Cycles that took longer than the polling period",
		}),
		SamplesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardian_samples_ingested_total",
			Help: "New samples persisted to the history store",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardian_fetch_errors_total",
			Help: "Failed tracking API fetches, skipped for the cycle",
		}),
		SamplesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardian_samples_purged_total",
			Help: "Samples removed by the retention purge",
		}),
		PilotState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guardian_pilot_state",
			Help: "Current state per pilot (1 for the active state)",
		}, []string{"pilot", "state"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.CycleDuration,
			m.CycleOverruns,
			m.SamplesIngested,
			m.FetchErrors,
			m.SamplesPurged,
			m.PilotState,
		)
	}
	return m
}
