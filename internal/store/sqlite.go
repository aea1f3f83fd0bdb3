package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benmeehan/geotrack/internal/models"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS locations (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id    TEXT    NOT NULL,
	latitude     REAL    NOT NULL,
	longitude    REAL    NOT NULL,
	timestamp_ms INTEGER NOT NULL,
	user_id      TEXT
);
CREATE INDEX IF NOT EXISTS idx_locations_recent ON locations (timestamp_ms DESC, id DESC);
`

// SQLiteStore persists reports in a SQLite database. Timestamps are stored
// as Unix milliseconds so ordering is numeric; sub-millisecond precision is
// dropped.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (and migrates) the database at path. Use ":memory:"
// for a throwaway database.
func NewSQLiteStore(ctx context.Context, path string, logger zerolog.Logger) (*SQLiteStore, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, &StoreError{Op: "open", Err: err}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	// One connection: SQLite serializes writers anyway and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, &StoreError{Op: "open", Err: err}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, &StoreError{Op: "migrate", Err: err}
	}

	logger.Info().Str("path", path).Msg("SQLite location store ready")
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Append inserts one report.
func (s *SQLiteStore) Append(ctx context.Context, report models.LocationReport) error {
	var user sql.NullString
	if report.User != nil {
		user = sql.NullString{String: *report.User, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO locations (device_id, latitude, longitude, timestamp_ms, user_id) VALUES (?, ?, ?, ?, ?)`,
		report.DeviceID, report.Latitude, report.Longitude, report.Timestamp.UnixMilli(), user,
	)
	if err != nil {
		return &StoreError{Op: "append", Err: err}
	}
	return nil
}

// Recent returns the newest reports first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]models.LocationReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, latitude, longitude, timestamp_ms, user_id FROM locations ORDER BY timestamp_ms DESC, id DESC LIMIT ?`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, &StoreError{Op: "recent", Err: err}
	}
	defer rows.Close()

	reports := make([]models.LocationReport, 0)
	for rows.Next() {
		var (
			report models.LocationReport
			millis int64
			user   sql.NullString
		)
		if err := rows.Scan(&report.DeviceID, &report.Latitude, &report.Longitude, &millis, &user); err != nil {
			return nil, &StoreError{Op: "recent", Err: fmt.Errorf("scan row: %w", err)}
		}
		report.Timestamp = time.UnixMilli(millis).UTC()
		if user.Valid {
			u := user.String
			report.User = &u
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "recent", Err: err}
	}
	return reports, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return &StoreError{Op: "close", Err: err}
	}
	return nil
}
