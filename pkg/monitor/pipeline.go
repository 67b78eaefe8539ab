package monitor

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/vol-libre/guardian-angel/pkg/store"
	"github.com/vol-libre/guardian-angel/pkg/telemetry"
)

// Fetcher fetches raw tracking records for one pilot within a lookback
// window, newest first. A nil error with no records means no recent activity.
type Fetcher interface {
	FetchRecent(ctx context.Context, key string, lookback time.Duration) ([]string, error)
}

// Pipeline turns one pilot's raw fetch into deduplicated, speed-completed
// samples and persists them, once per pilot per cycle.
type Pipeline struct {
	fetcher Fetcher
	store   store.Store
	metrics *Metrics
	log     zerolog.Logger
}

// NewPipeline creates the ingestion pipeline.
func NewPipeline(fetcher Fetcher, st store.Store, metrics *Metrics, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		fetcher: fetcher,
		store:   st,
		metrics: metrics,
		log:     logger.With().Str("component", "pipeline").Logger(),
	}
}

// Ingest runs one pilot's ingestion for one cycle and returns the number of
// samples newly persisted. A fetch failure is returned for the caller to log
// and skip; decode failures skip the record only.
func (p *Pipeline) Ingest(ctx context.Context, key string, window time.Duration) (int, error) {
	records, err := p.fetcher.FetchRecent(ctx, key, window)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	samples := p.decode(key, records)
	if len(samples) == 0 {
		return 0, nil
	}

	fillDerivedSpeeds(samples)

	n, err := p.store.AppendIfAbsent(ctx, key, samples)
	if err != nil {
		return 0, err
	}
	if p.metrics != nil {
		p.metrics.SamplesIngested.Add(float64(n))
	}
	return n, nil
}

// decode walks the raw records newest to oldest. The first record seen for
// an exact timestamp is authoritative; later records sharing it are a known
// duplicate artifact of the source and are discarded. The result is sorted
// ascending for persistence.
func (p *Pipeline) decode(key string, records []string) []telemetry.Sample {
	seen := make(map[int64]struct{}, len(records))
	samples := make([]telemetry.Sample, 0, len(records))

	for _, raw := range records {
		s, unknown, err := telemetry.Decode(raw)
		if err != nil {
			p.log.Warn().Err(err).Str("pilot", key).Msg("Skipping malformed record")
			continue
		}
		for _, tag := range unknown {
			p.log.Debug().Str("pilot", key).Str("tag", tag).Msg("Unknown record tag ignored")
		}
		if s.Timestamp.IsZero() {
			p.log.Warn().Str("pilot", key).Msg("Skipping record without timestamp")
			continue
		}
		if s.Key == "" {
			s.Key = key
		}

		ts := s.Timestamp.Unix()
		if _, dup := seen[ts]; dup {
			p.log.Debug().Str("pilot", key).Int64("timestamp", ts).Msg("Duplicate timestamp, keeping the first record")
			continue
		}
		seen[ts] = struct{}{}
		samples = append(samples, s)
	}

	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	return samples
}

// fillDerivedSpeeds fills the speed of the older sample of each adjacent pair
// when the source did not report one. samples must be ascending.
func fillDerivedSpeeds(samples []telemetry.Sample) {
	for i := 0; i+1 < len(samples); i++ {
		if samples[i].HasSpeed() {
			continue
		}
		v := telemetry.DeriveSpeed(samples[i], samples[i+1])
		samples[i].SetSpeed(math.Round(v*100) / 100)
	}
}
