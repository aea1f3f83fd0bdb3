package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/benmeehan/geotrack/internal/constants"
	"github.com/benmeehan/geotrack/internal/models"
	"github.com/rs/zerolog"
)

// ErrStore is matched by every error returned from a LocationStore.
var ErrStore = errors.New("location store")

// StoreError wraps a persistence failure with the operation that caused it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStore, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrStore) match any StoreError.
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// LocationStore is append-only persistence of location reports.
type LocationStore interface {
	// Append durably stores one report.
	Append(ctx context.Context, report models.LocationReport) error
	// Recent returns up to limit reports, newest timestamp first. Reports
	// with equal timestamps come back most recently inserted first.
	Recent(ctx context.Context, limit int) ([]models.LocationReport, error)
	Close() error
}

// Open selects a backend from the connection string: postgres:// and
// postgresql:// use PostgreSQL, anything else is treated as a SQLite path
// (optionally prefixed with sqlite://).
func Open(ctx context.Context, dsn string, logger zerolog.Logger) (LocationStore, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(ctx, dsn, logger)
	case dsn == "":
		return nil, &StoreError{Op: "open", Err: errors.New("empty connection string")}
	default:
		return NewSQLiteStore(ctx, strings.TrimPrefix(dsn, "sqlite://"), logger)
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return constants.DefaultRecentLimit
	}
	return limit
}
