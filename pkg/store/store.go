// Package store provides the append-only per-pilot sample history used by
// the monitoring loop, with a PostgreSQL implementation for production and an
// in-memory implementation for tests and database-less runs.
package store

import (
	"context"
	"time"

	"github.com/vol-libre/guardian-angel/pkg/telemetry"
)

// Store is the history store contract. The scheduler is the only writer
// during ingestion; per-cycle writes commit as one transaction so concurrent
// readers never observe a partial cycle.
type Store interface {
	// AppendIfAbsent inserts only the samples whose (key, timestamp) does not
	// already exist, in a single transaction. It returns the number of rows
	// actually inserted; re-ingesting an overlapping window inserts nothing.
	AppendIfAbsent(ctx context.Context, key string, samples []telemetry.Sample) (int, error)

	// Latest returns the most recent sample for the pilot, or nil when the
	// pilot has no history.
	Latest(ctx context.Context, key string) (*telemetry.Sample, error)

	// Windowed returns the pilot's samples at or after since, ordered by
	// ascending timestamp.
	Windowed(ctx context.Context, key string, since time.Time) ([]telemetry.Sample, error)

	// PurgeOlderThan deletes samples older than the retention age across all
	// pilots and returns the number of rows removed.
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)

	// Close releases the store's resources.
	Close()
}
