package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vol-libre/guardian-angel/pkg/flight"
	"github.com/vol-libre/guardian-angel/pkg/store"
)

// Defaults for the scheduler configuration.
const (
	DefaultPeriod          = 15 * time.Second
	DefaultAveragingWindow = 5 * time.Minute
	DefaultRetention       = 48 * time.Hour

	// fetchMargin widens the fetch window past the polling period so
	// consecutive windows overlap and no sample is missed at the boundary.
	fetchMargin = 2 * time.Second
)

// PilotSource supplies the pilots to monitor each cycle.
type PilotSource interface {
	Pilots() []*flight.Pilot
}

// Config tunes the scheduler.
type Config struct {
	Period          time.Duration
	AveragingWindow time.Duration
	Retention       time.Duration
}

func (c *Config) withDefaults() {
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
	if c.AveragingWindow <= 0 {
		c.AveragingWindow = DefaultAveragingWindow
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
}

// Scheduler owns the fixed-period monitoring loop: ingest every pilot, then
// refresh every pilot's state machine from the store, then purge old history.
type Scheduler struct {
	cfg      Config
	pipeline *Pipeline
	store    store.Store
	pilots   PilotSource
	metrics  *Metrics
	log      zerolog.Logger
	now      func() time.Time
}

// NewScheduler creates a scheduler over the given pipeline, store and pilots.
func NewScheduler(cfg Config, pipeline *Pipeline, st store.Store, pilots PilotSource, metrics *Metrics, logger zerolog.Logger) *Scheduler {
	cfg.withDefaults()
	return &Scheduler{
		cfg:      cfg,
		pipeline: pipeline,
		store:    st,
		pilots:   pilots,
		metrics:  metrics,
		log:      logger.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
	}
}

// Run drives the loop until the context is cancelled. A cycle that overruns
// the period logs a warning and starts the next cycle immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().
		Dur("period", s.cfg.Period).
		Dur("averaging_window", s.cfg.AveragingWindow).
		Dur("retention", s.cfg.Retention).
		Msg("Monitoring started")

	for {
		start := s.now()
		s.runCycle(ctx)
		elapsed := s.now().Sub(start)

		if s.metrics != nil {
			s.metrics.CycleDuration.Observe(elapsed.Seconds())
		}

		if elapsed >= s.cfg.Period {
			s.log.Warn().
				Dur("elapsed", elapsed).
				Dur("period", s.cfg.Period).
				Msg("Cycle overran the polling period, starting next cycle immediately")
			if s.metrics != nil {
				s.metrics.CycleOverruns.Inc()
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.Period - elapsed):
		}
	}
}

// runCycle executes one full cycle. No per-pilot failure is allowed to stop
// the loop or the other pilots' processing.
func (s *Scheduler) runCycle(ctx context.Context) {
	cycle := uuid.New().String()
	pilots := s.pilots.Pilots()

	for _, p := range pilots {
		if ctx.Err() != nil {
			return
		}
		s.ingestPilot(ctx, cycle, p)
	}

	for _, p := range pilots {
		if ctx.Err() != nil {
			return
		}
		s.refreshPilot(ctx, cycle, p)
	}

	removed, err := s.store.PurgeOlderThan(ctx, s.cfg.Retention)
	if err != nil {
		s.log.Error().Err(err).Str("cycle", cycle).Msg("Retention purge failed")
	} else if removed > 0 {
		s.log.Debug().Str("cycle", cycle).Int64("removed", removed).Msg("Purged old samples")
		if s.metrics != nil {
			s.metrics.SamplesPurged.Add(float64(removed))
		}
	}
}

func (s *Scheduler) ingestPilot(ctx context.Context, cycle string, p *flight.Pilot) {
	defer s.recoverPilot(cycle, p.Key(), "ingest")

	n, err := s.pipeline.Ingest(ctx, p.Key(), s.cfg.Period+fetchMargin)
	if err != nil {
		s.log.Error().Err(err).
			Str("cycle", cycle).
			Str("pilot", p.Key()).
			Msg("Fetch failed, skipping pilot this cycle")
		if s.metrics != nil {
			s.metrics.FetchErrors.Inc()
		}
		return
	}
	if n > 0 {
		s.log.Debug().Str("cycle", cycle).Str("pilot", p.Key()).Int("samples", n).Msg("Ingested samples")
	}
}

func (s *Scheduler) refreshPilot(ctx context.Context, cycle string, p *flight.Pilot) {
	defer s.recoverPilot(cycle, p.Key(), "refresh")

	latest, err := s.store.Latest(ctx, p.Key())
	if err != nil {
		s.log.Error().Err(err).Str("cycle", cycle).Str("pilot", p.Key()).Msg("Reading latest sample failed")
		return
	}
	if latest == nil {
		// Nothing known about this pilot yet.
		return
	}

	windowed, err := s.store.Windowed(ctx, p.Key(), s.now().UTC().Add(-s.cfg.AveragingWindow))
	if err != nil {
		s.log.Error().Err(err).Str("cycle", cycle).Str("pilot", p.Key()).Msg("Reading windowed samples failed")
		return
	}

	snap := flight.Snapshot{
		Timestamp:    latest.Timestamp,
		Lat:          latest.Lat,
		Lon:          latest.Lon,
		Course:       latest.Course,
		Speed:        latest.Speed,
		AverageSpeed: TimeWeightedAverage(windowed),
	}
	if agl, ok := latest.AboveGround(); ok {
		snap.AboveGround = &agl
	}

	p.Update(snap)

	if s.metrics != nil {
		st := p.State()
		for _, known := range []flight.State{
			flight.StateUnknown, flight.StateFlying, flight.StateAwaitingClearance,
			flight.StateLanded, flight.StateDisconnected, flight.StateAlert,
		} {
			v := 0.0
			if known == st {
				v = 1.0
			}
			s.metrics.PilotState.WithLabelValues(p.Key(), string(known)).Set(v)
		}
	}
}

func (s *Scheduler) recoverPilot(cycle, key, stage string) {
	if r := recover(); r != nil {
		s.log.Error().
			Str("cycle", cycle).
			Str("pilot", key).
			Str("stage", stage).
			Interface("panic", r).
			Msg("Recovered panic in pilot processing")
	}
}
