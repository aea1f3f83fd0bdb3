package metrics_collectors

import (
	"context"
)

// MetricCollector reads one runtime value for the status endpoint.
type MetricCollector interface {
	Name() string                                 // Name of the metric (e.g., "goroutines")
	Collect(ctx context.Context) (float64, error) // Collect the current value
	Unit() string                                 // Unit of the metric (e.g., "percentage", "bytes")
	Description() string                          // Description of the metric
}
