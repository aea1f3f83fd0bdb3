// Package query exposes read-only views over the location store, the
// presence tracker and the ingestion counters.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/benmeehan/geotrack/internal/constants"
	"github.com/benmeehan/geotrack/internal/metrics_collectors"
	"github.com/benmeehan/geotrack/internal/models"
	"github.com/benmeehan/geotrack/internal/presence"
	"github.com/benmeehan/geotrack/internal/store"
)

// MaxLimit caps the number of locations a single query returns.
const MaxLimit = constants.MaxRecentLimit

// ErrInvalidLimit is returned for a limit outside 1..MaxLimit.
var ErrInvalidLimit = errors.New("limit must be between 1 and 100")

// IngestionSource is the part of the ingestion service the surface reads.
type IngestionSource interface {
	ConnectionStatus() string
	Stats() models.IngestionStats
}

// Surface answers queries. It never mutates what it reads.
type Surface struct {
	store     store.LocationStore
	tracker   *presence.Tracker
	ingestion IngestionSource
	runtime   *metrics_collectors.MetricsRegistry

	defaultLimit int
}

// NewSurface creates a Surface. ingestion and runtime may be nil.
// defaultLimit is used when a query asks for no particular limit; values
// outside 1..MaxLimit are clamped.
func NewSurface(locationStore store.LocationStore, tracker *presence.Tracker, ingestion IngestionSource,
	runtime *metrics_collectors.MetricsRegistry, defaultLimit int) *Surface {
	switch {
	case defaultLimit <= 0:
		defaultLimit = constants.DefaultRecentLimit
	case defaultLimit > MaxLimit:
		defaultLimit = MaxLimit
	}
	return &Surface{
		store:        locationStore,
		tracker:      tracker,
		ingestion:    ingestion,
		runtime:      runtime,
		defaultLimit: defaultLimit,
	}
}

// DefaultLimit is the limit applied to queries that do not set one.
func (s *Surface) DefaultLimit() int {
	return s.defaultLimit
}

// RecentLocations returns up to limit reports, newest first. A zero limit
// means the configured default.
func (s *Surface) RecentLocations(ctx context.Context, limit int) ([]models.LocationReport, error) {
	if limit == 0 {
		limit = s.defaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}
	return s.store.Recent(ctx, limit)
}

// ActiveDevices returns the devices heard from within the expiry window.
func (s *Surface) ActiveDevices() models.ActiveDevices {
	return s.tracker.Snapshot()
}

// Status summarises the connection, counters and process runtime.
func (s *Surface) Status(ctx context.Context) models.ServiceStatus {
	status := models.ServiceStatus{
		Connection:    "Unknown",
		ActiveDevices: s.tracker.ActiveCount(),
	}
	if s.ingestion != nil {
		status.Connection = s.ingestion.ConnectionStatus()
		status.Stats = s.ingestion.Stats()
	}
	if s.runtime != nil {
		status.Runtime = s.runtime.CollectAll(ctx)
	}
	return status
}
