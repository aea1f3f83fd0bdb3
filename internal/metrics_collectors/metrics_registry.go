package metrics_collectors

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// MetricsRegistry holds the collectors reported on the status endpoint.
type MetricsRegistry struct {
	mu         sync.RWMutex
	collectors map[string]MetricCollector
	logger     zerolog.Logger
}

// NewMetricsRegistry creates a new MetricsRegistry instance.
func NewMetricsRegistry(logger zerolog.Logger) *MetricsRegistry {
	return &MetricsRegistry{
		collectors: make(map[string]MetricCollector),
		logger:     logger,
	}
}

// NewDefaultRegistry registers the goroutine, process memory and host memory collectors.
func NewDefaultRegistry(logger zerolog.Logger) *MetricsRegistry {
	r := NewMetricsRegistry(logger)
	r.Register(&GoroutineMetricCollector{})
	r.Register(NewProcessMemoryCollector())
	r.Register(&MemoryMetricCollector{})
	return r
}

// Register adds a new metric collector to the registry.
func (r *MetricsRegistry) Register(collector MetricCollector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors[collector.Name()] = collector
}

// GetCollectors returns all the metric collectors registered in the registry.
func (r *MetricsRegistry) GetCollectors() map[string]MetricCollector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]MetricCollector, len(r.collectors))
	for name, c := range r.collectors {
		out[name] = c
	}
	return out
}

// CollectAll reads every collector. Failing collectors are left out.
func (r *MetricsRegistry) CollectAll(ctx context.Context) map[string]float64 {
	values := make(map[string]float64)
	for name, c := range r.GetCollectors() {
		v, err := c.Collect(ctx)
		if err != nil {
			r.logger.Debug().Err(err).Str("collector", name).Msg("Runtime collector failed")
			continue
		}
		values[name] = v
	}
	return values
}
