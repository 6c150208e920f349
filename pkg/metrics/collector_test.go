package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	snapshot    []InstanceSnapshot
	configCount int
}

func (f *fakeSource) Snapshot() []InstanceSnapshot { return f.snapshot }
func (f *fakeSource) ConfigCount() int             { return f.configCount }

func TestCollectorCollectUpdatesGauges(t *testing.T) {
	src := &fakeSource{
		snapshot: []InstanceSnapshot{
			{ConfigID: "web", InstanceID: "web-0", Status: "running", CPUPercent: 12.5, MemoryBytes: 1024},
			{ConfigID: "web", InstanceID: "web-1", Status: "running", CPUPercent: 3.0, MemoryBytes: 2048},
			{ConfigID: "worker", InstanceID: "worker-0", Status: "crashed", CPUPercent: 0, MemoryBytes: 0},
		},
		configCount: 2,
	}

	c := NewCollector(src)
	c.collect()

	if got := testutil.ToFloat64(InstancesTotal.WithLabelValues("running")); got != 2 {
		t.Errorf("running instances = %v, want 2", got)
	}
	if got := testutil.ToFloat64(InstancesTotal.WithLabelValues("crashed")); got != 1 {
		t.Errorf("crashed instances = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ConfigsTotal); got != 2 {
		t.Errorf("configs total = %v, want 2", got)
	}
}

func TestCollectorMarksDaemonDegradedOnErroredInstances(t *testing.T) {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
	RegisterComponent("supervisor", true, "")
	RegisterComponent("ipc", true, "")

	src := &fakeSource{snapshot: []InstanceSnapshot{{ConfigID: "web", InstanceID: "web-0", Status: "errored"}}}
	c := NewCollector(src)
	c.collect()

	if status := GetHealth().Status; status != "degraded" {
		t.Errorf("health status = %q, want degraded", status)
	}

	src.snapshot = nil
	c.collect()
	if status := GetHealth().Status; status != "healthy" {
		t.Errorf("health status after recovery = %q, want healthy", status)
	}
}

func TestCollectorStartStop(t *testing.T) {
	src := &fakeSource{}
	c := NewCollector(src)
	c.Start()
	time.Sleep(10 * time.Millisecond)
	c.Stop()
}
