package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vol-libre/guardian-angel/pkg/telemetry"
)

// Memory is the in-memory reference implementation of Store. It backs tests
// and runs without a configured database.
type Memory struct {
	mu      sync.RWMutex
	samples map[string][]telemetry.Sample // per key, ascending by timestamp
	seen    map[string]map[int64]struct{} // per key, unix timestamps present
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		samples: make(map[string][]telemetry.Sample),
		seen:    make(map[string]map[int64]struct{}),
		now:     time.Now,
	}
}

// AppendIfAbsent inserts the samples whose (key, timestamp) is new. The whole
// batch applies under one lock so readers never observe a partial cycle.
func (m *Memory) AppendIfAbsent(_ context.Context, key string, samples []telemetry.Sample) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := m.seen[key]
	if seen == nil {
		seen = make(map[int64]struct{})
		m.seen[key] = seen
	}

	inserted := 0
	for _, s := range samples {
		ts := s.Timestamp.Unix()
		if _, dup := seen[ts]; dup {
			continue
		}
		seen[ts] = struct{}{}
		m.samples[key] = append(m.samples[key], s)
		inserted++
	}

	if inserted > 0 {
		rows := m.samples[key]
		sort.Slice(rows, func(i, j int) bool {
			return rows[i].Timestamp.Before(rows[j].Timestamp)
		})
	}
	return inserted, nil
}

// Latest returns the newest sample for the pilot, or nil without history.
func (m *Memory) Latest(_ context.Context, key string) (*telemetry.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.samples[key]
	if len(rows) == 0 {
		return nil, nil
	}
	s := rows[len(rows)-1]
	return &s, nil
}

// Windowed returns the pilot's samples at or after since, ascending.
func (m *Memory) Windowed(_ context.Context, key string, since time.Time) ([]telemetry.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []telemetry.Sample
	for _, s := range m.samples[key] {
		if !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

// PurgeOlderThan drops samples older than the retention age for all pilots.
func (m *Memory) PurgeOlderThan(_ context.Context, age time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().UTC().Add(-age)
	var removed int64
	for key, rows := range m.samples {
		kept := rows[:0]
		for _, s := range rows {
			if s.Timestamp.Before(cutoff) {
				removed++
				delete(m.seen[key], s.Timestamp.Unix())
				continue
			}
			kept = append(kept, s)
		}
		m.samples[key] = kept
	}
	return removed, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() {}
