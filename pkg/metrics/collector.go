package metrics

import (
	"fmt"
	"time"
)

// InstanceSnapshot is the minimal view of a process instance the collector
// needs in order to update gauges. It decouples this package from
// pkg/supervisor so neither package imports the other.
type InstanceSnapshot struct {
	ConfigID    string
	InstanceID  string
	Status      string
	CPUPercent  float64
	MemoryBytes uint64
}

// Source is implemented by whatever owns the live instance state —
// pkg/supervisor.Supervisor in practice.
type Source interface {
	Snapshot() []InstanceSnapshot
	ConfigCount() int
}

// Collector periodically copies live state from a Source into the package's
// Prometheus gauges.
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a fixed interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	snapshots := c.source.Snapshot()

	statusCounts := make(map[string]int)
	for _, s := range snapshots {
		statusCounts[s.Status]++
		InstanceCPUPercent.WithLabelValues(s.ConfigID, s.InstanceID).Set(s.CPUPercent)
		InstanceMemoryBytes.WithLabelValues(s.ConfigID, s.InstanceID).Set(float64(s.MemoryBytes))
	}

	for status, count := range statusCounts {
		InstancesTotal.WithLabelValues(status).Set(float64(count))
	}

	ConfigsTotal.Set(float64(c.source.ConfigCount()))

	if errored := statusCounts["errored"]; errored > 0 {
		SetDegraded(true, fmt.Sprintf("%d instance(s) errored", errored))
	} else {
		SetDegraded(false, "")
	}
}
