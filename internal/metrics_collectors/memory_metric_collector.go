package metrics_collectors

import (
	"context"
	"os"

	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"
)

// MemoryMetricCollector collects the percentage of used virtual memory on the host.
type MemoryMetricCollector struct{}

// Name returns the identifier for the memory metric collector.
func (m *MemoryMetricCollector) Name() string {
	return "host_memory_used_percent"
}

// Collect retrieves the percentage of used virtual memory.
func (m *MemoryMetricCollector) Collect(ctx context.Context) (float64, error) {
	memStats, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return memStats.UsedPercent, nil
}

// Unit specifies the unit for memory usage metrics.
func (m *MemoryMetricCollector) Unit() string {
	return "percentage"
}

// Description provides details of the memory usage metrics collected.
func (m *MemoryMetricCollector) Description() string {
	return "Percentage of used virtual memory on the host."
}

// ProcessMemoryCollector reports the resident set size of this process.
type ProcessMemoryCollector struct {
	pid int32
}

// NewProcessMemoryCollector creates a collector for the current process.
func NewProcessMemoryCollector() *ProcessMemoryCollector {
	return &ProcessMemoryCollector{pid: int32(os.Getpid())}
}

func (p *ProcessMemoryCollector) Name() string {
	return "process_rss_bytes"
}

func (p *ProcessMemoryCollector) Collect(ctx context.Context) (float64, error) {
	proc, err := process.NewProcess(p.pid)
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return float64(info.RSS), nil
}

func (p *ProcessMemoryCollector) Unit() string {
	return "bytes"
}

func (p *ProcessMemoryCollector) Description() string {
	return "Resident set size of the ingestor process."
}
