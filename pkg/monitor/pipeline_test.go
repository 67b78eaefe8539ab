package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vol-libre/guardian-angel/pkg/store"
	"github.com/vol-libre/guardian-angel/pkg/telemetry"
)

type fakeFetcher struct {
	records map[string][]string
	err     error
	calls   int
}

func (ff *fakeFetcher) FetchRecent(_ context.Context, key string, _ time.Duration) ([]string, error) {
	ff.calls++
	if ff.err != nil {
		return nil, ff.err
	}
	return ff.records[key], nil
}

func record(epoch int64, lat, lon float64, extra string) string {
	return fmt.Sprintf("T%d,L%f,G%f%s", epoch, lat, lon, extra)
}

func TestIngestDedupKeepsFirstEncountered(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	base := int64(1712000000)

	// Newest-first walk: the first record for a timestamp is authoritative;
	// the later equal-timestamp record must be discarded, never the reverse.
	ff := &fakeFetcher{records: map[string][]string{
		"X-a": {
			record(base+30, 45.003, 5.0, ",S9.0"),
			record(base+30, 99.999, 9.9, ",S1.0"), // duplicate artifact
			record(base+15, 45.001, 5.0, ",S8.0"),
			record(base, 45.0, 5.0, ",S7.0"),
		},
	}}

	pl := NewPipeline(ff, mem, nil, zerolog.Nop())
	n, err := pl.Ingest(ctx, "X-a", 17*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows, err := mem.Windowed(ctx, "X-a", time.Unix(base, 0).UTC())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 45.003, rows[2].Lat, "the first-encountered record won")
	require.NotNil(t, rows[2].Speed)
	assert.Equal(t, 9.0, *rows[2].Speed)
}

func TestIngestFillsDerivedSpeed(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	base := int64(1712000000)

	// ~111m of latitude in 10s without a reported speed.
	ff := &fakeFetcher{records: map[string][]string{
		"X-a": {
			record(base+10, 44.91138, 5.19237, ""),
			record(base, 44.91038, 5.19237, ""),
		},
	}}

	pl := NewPipeline(ff, mem, nil, zerolog.Nop())
	_, err := pl.Ingest(ctx, "X-a", 17*time.Second)
	require.NoError(t, err)

	rows, err := mem.Windowed(ctx, "X-a", time.Unix(base, 0).UTC())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NotNil(t, rows[0].Speed, "older of the pair gets the derived speed")
	assert.InDelta(t, 11.12, *rows[0].Speed, 0.05)
	assert.Nil(t, rows[1].Speed, "newest sample has no pair to derive from")
}

func TestIngestReportedSpeedNotOverwritten(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	base := int64(1712000000)

	ff := &fakeFetcher{records: map[string][]string{
		"X-a": {
			record(base+10, 44.91138, 5.19237, ""),
			record(base, 44.91038, 5.19237, ",S3.5"),
		},
	}}

	pl := NewPipeline(ff, mem, nil, zerolog.Nop())
	_, err := pl.Ingest(ctx, "X-a", 17*time.Second)
	require.NoError(t, err)

	rows, err := mem.Windowed(ctx, "X-a", time.Unix(base, 0).UTC())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].Speed)
	assert.Equal(t, 3.5, *rows[0].Speed)
}

func TestIngestIsIdempotentAcrossOverlappingWindows(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	base := int64(1712000000)

	ff := &fakeFetcher{records: map[string][]string{
		"X-a": {
			record(base+15, 45.001, 5.0, ",S8.0"),
			record(base, 45.0, 5.0, ",S7.0"),
		},
	}}

	pl := NewPipeline(ff, mem, nil, zerolog.Nop())

	n, err := pl.Ingest(ctx, "X-a", 17*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// The next cycle fetches an overlapping window.
	n, err = pl.Ingest(ctx, "X-a", 17*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	rows, err := mem.Windowed(ctx, "X-a", time.Unix(base, 0).UTC())
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestIngestSkipsMalformedRecords(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	base := int64(1712000000)

	ff := &fakeFetcher{records: map[string][]string{
		"X-a": {
			record(base+15, 45.001, 5.0, ",S8.0"),
			"Tnotanumber,L45.0,G5.0",
			record(base, 45.0, 5.0, ",S7.0"),
		},
	}}

	pl := NewPipeline(ff, mem, nil, zerolog.Nop())
	n, err := pl.Ingest(ctx, "X-a", 17*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIngestEmptyFetchIsNotAnError(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFetcher{records: map[string][]string{}}

	pl := NewPipeline(ff, store.NewMemory(), nil, zerolog.Nop())
	n, err := pl.Ingest(ctx, "X-quiet", 17*time.Second)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIngestFetchFailurePropagates(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFetcher{err: telemetry.ErrSourceUnavailable}

	pl := NewPipeline(ff, store.NewMemory(), nil, zerolog.Nop())
	_, err := pl.Ingest(ctx, "X-a", 17*time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, telemetry.ErrSourceUnavailable))
}
