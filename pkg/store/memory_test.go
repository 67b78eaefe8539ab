package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vol-libre/guardian-angel/pkg/telemetry"
)

func sampleAt(key string, ts time.Time, lat float64) telemetry.Sample {
	return telemetry.Sample{Key: key, Timestamp: ts, Lat: lat, Lon: 5.0}
}

func TestAppendIfAbsentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	batch := []telemetry.Sample{
		sampleAt("X-a", base, 45.0),
		sampleAt("X-a", base.Add(15*time.Second), 45.001),
		sampleAt("X-a", base.Add(30*time.Second), 45.002),
	}

	n, err := m.AppendIfAbsent(ctx, "X-a", batch)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Re-ingesting an overlapping window creates no duplicates.
	overlap := append([]telemetry.Sample{sampleAt("X-a", base.Add(45*time.Second), 45.003)}, batch...)
	n, err = m.AppendIfAbsent(ctx, "X-a", overlap)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := m.Windowed(ctx, "X-a", base)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestLatest(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	latest, err := m.Latest(ctx, "X-a")
	require.NoError(t, err)
	assert.Nil(t, latest, "no history yet")

	// Out-of-order insert still yields the chronologically newest.
	_, err = m.AppendIfAbsent(ctx, "X-a", []telemetry.Sample{
		sampleAt("X-a", base.Add(30*time.Second), 45.002),
		sampleAt("X-a", base, 45.0),
	})
	require.NoError(t, err)

	latest, err = m.Latest(ctx, "X-a")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, base.Add(30*time.Second), latest.Timestamp)
	assert.Equal(t, 45.002, latest.Lat)
}

func TestWindowedOrderAndBound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	_, err := m.AppendIfAbsent(ctx, "X-a", []telemetry.Sample{
		sampleAt("X-a", base.Add(2*time.Minute), 45.2),
		sampleAt("X-a", base, 45.0),
		sampleAt("X-a", base.Add(time.Minute), 45.1),
	})
	require.NoError(t, err)

	rows, err := m.Windowed(ctx, "X-a", base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, base.Add(time.Minute), rows[0].Timestamp)
	assert.Equal(t, base.Add(2*time.Minute), rows[1].Timestamp)
}

func TestPurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2024, 4, 3, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_, err := m.AppendIfAbsent(ctx, "X-a", []telemetry.Sample{
		sampleAt("X-a", now.Add(-72*time.Hour), 45.0),
		sampleAt("X-a", now.Add(-49*time.Hour), 45.1),
		sampleAt("X-a", now.Add(-time.Hour), 45.2),
	})
	require.NoError(t, err)
	_, err = m.AppendIfAbsent(ctx, "X-b", []telemetry.Sample{
		sampleAt("X-b", now.Add(-50*time.Hour), 46.0),
	})
	require.NoError(t, err)

	removed, err := m.PurgeOlderThan(ctx, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	rows, err := m.Windowed(ctx, "X-a", now.Add(-72*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 45.2, rows[0].Lat)

	// A purged timestamp can be ingested again.
	n, err := m.AppendIfAbsent(ctx, "X-a", []telemetry.Sample{
		sampleAt("X-a", now.Add(-72*time.Hour), 45.0),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStoresAreIsolatedPerPilot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	_, err := m.AppendIfAbsent(ctx, "X-a", []telemetry.Sample{sampleAt("X-a", base, 45.0)})
	require.NoError(t, err)
	_, err = m.AppendIfAbsent(ctx, "X-b", []telemetry.Sample{sampleAt("X-b", base, 46.0)})
	require.NoError(t, err)

	latest, err := m.Latest(ctx, "X-b")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 46.0, latest.Lat)
}
