package store

import (
	"context"
	"fmt"

	"github.com/benmeehan/geotrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS locations (
	id        BIGSERIAL PRIMARY KEY,
	device_id TEXT             NOT NULL,
	latitude  DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	timestamp TIMESTAMPTZ      NOT NULL,
	user_id   TEXT
);
CREATE INDEX IF NOT EXISTS idx_locations_recent ON locations (timestamp DESC, id DESC);
`

// PostgresStore persists reports in PostgreSQL through a pgx pool.
// TIMESTAMPTZ keeps microseconds, so reports decoded at millisecond
// precision come back unchanged; finer timestamps are rounded by the server.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresStore connects, pings and migrates.
func NewPostgresStore(ctx context.Context, dsn string, logger zerolog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &StoreError{Op: "open", Err: fmt.Errorf("ping: %w", err)}
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, &StoreError{Op: "migrate", Err: err}
	}

	logger.Info().Msg("PostgreSQL location store ready")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Append inserts one report.
func (s *PostgresStore) Append(ctx context.Context, report models.LocationReport) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO locations (device_id, latitude, longitude, timestamp, user_id) VALUES ($1, $2, $3, $4, $5)`,
		report.DeviceID, report.Latitude, report.Longitude, report.Timestamp, report.User,
	)
	if err != nil {
		return &StoreError{Op: "append", Err: err}
	}
	return nil
}

// Recent returns the newest reports first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]models.LocationReport, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT device_id, latitude, longitude, timestamp, user_id FROM locations ORDER BY timestamp DESC, id DESC LIMIT $1`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, &StoreError{Op: "recent", Err: err}
	}

	reports, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.LocationReport, error) {
		var report models.LocationReport
		err := row.Scan(&report.DeviceID, &report.Latitude, &report.Longitude, &report.Timestamp, &report.User)
		report.Timestamp = report.Timestamp.UTC()
		return report, err
	})
	if err != nil {
		return nil, &StoreError{Op: "recent", Err: err}
	}
	if reports == nil {
		reports = make([]models.LocationReport, 0)
	}
	return reports, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
