package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vol-libre/guardian-angel/pkg/telemetry"
)

const sampleSchema = `
CREATE TABLE IF NOT EXISTS samples (
	id           BIGSERIAL PRIMARY KEY,
	pilot_key    TEXT NOT NULL,
	recorded_at  TIMESTAMPTZ NOT NULL,
	lat          DOUBLE PRECISION NOT NULL,
	lon          DOUBLE PRECISION NOT NULL,
	course       DOUBLE PRECISION,
	speed        DOUBLE PRECISION,
	alt_gps      DOUBLE PRECISION,
	ground_level DOUBLE PRECISION,
	source_type  TEXT NOT NULL DEFAULT '',
	UNIQUE (pilot_key, recorded_at)
);
CREATE INDEX IF NOT EXISTS samples_pilot_recorded_idx ON samples (pilot_key, recorded_at DESC);
`

// Postgres stores sample history in PostgreSQL behind a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database, verifies the connection and ensures
// the schema exists.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, sampleSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// AppendIfAbsent batch-inserts the samples inside one transaction, relying on
// the (pilot_key, recorded_at) unique constraint to skip known timestamps.
func (p *Postgres) AppendIfAbsent(ctx context.Context, key string, samples []telemetry.Sample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, s := range samples {
		batch.Queue(`
			INSERT INTO samples (pilot_key, recorded_at, lat, lon, course, speed, alt_gps, ground_level, source_type)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (pilot_key, recorded_at) DO NOTHING
		`, key, s.Timestamp, s.Lat, s.Lon, s.Course, s.Speed, s.AltGPS, s.GroundLevel, s.SourceType)
	}

	results := tx.SendBatch(ctx, batch)
	inserted := 0
	for range samples {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, fmt.Errorf("failed to insert sample: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit samples: %w", err)
	}
	return inserted, nil
}

// Latest returns the newest sample for the pilot, or nil without history.
func (p *Postgres) Latest(ctx context.Context, key string) (*telemetry.Sample, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT pilot_key, recorded_at, lat, lon, course, speed, alt_gps, ground_level, source_type
		FROM samples
		WHERE pilot_key = $1
		ORDER BY recorded_at DESC
		LIMIT 1
	`, key)

	s, err := scanSample(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest sample: %w", err)
	}
	return &s, nil
}

// Windowed returns the pilot's samples at or after since, ascending.
func (p *Postgres) Windowed(ctx context.Context, key string, since time.Time) ([]telemetry.Sample, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT pilot_key, recorded_at, lat, lon, course, speed, alt_gps, ground_level, source_type
		FROM samples
		WHERE pilot_key = $1 AND recorded_at >= $2
		ORDER BY recorded_at ASC
	`, key, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query windowed samples: %w", err)
	}
	defer rows.Close()

	var samples []telemetry.Sample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// PurgeOlderThan deletes samples older than the retention age.
func (p *Postgres) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM samples WHERE recorded_at < $1`,
		time.Now().UTC().Add(-age),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge samples: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close shuts down the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func scanSample(row pgx.Row) (telemetry.Sample, error) {
	var s telemetry.Sample
	err := row.Scan(
		&s.Key, &s.Timestamp, &s.Lat, &s.Lon,
		&s.Course, &s.Speed, &s.AltGPS, &s.GroundLevel, &s.SourceType,
	)
	if err != nil {
		return telemetry.Sample{}, err
	}
	s.Timestamp = s.Timestamp.UTC()
	return s, nil
}
