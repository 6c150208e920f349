package monitor

import (
	"os"
	"testing"
	"time"
)

func TestStartStopMonitoringAndSample(t *testing.T) {
	m := New()
	pid := os.Getpid()
	if err := m.StartMonitoring("inst-1", "cfg-1", pid, time.Now()); err != nil {
		t.Fatal(err)
	}

	m.sampleAll()

	sample, ok := m.GetMetrics("inst-1")
	if !ok {
		t.Fatal("expected a sample after sampleAll")
	}
	if sample.MemoryBytes == 0 {
		t.Error("expected non-zero RSS for self")
	}

	m.StopMonitoring("inst-1")
	if _, ok := m.GetMetrics("inst-1"); ok {
		t.Error("expected no metrics after StopMonitoring")
	}

	// idempotent
	m.StopMonitoring("inst-1")
}

func TestGetMetricsHistoryBounded(t *testing.T) {
	m := New()
	pid := os.Getpid()
	m.StartMonitoring("inst-1", "cfg-1", pid, time.Now())

	for i := 0; i < 5; i++ {
		m.sampleAll()
	}

	history := m.GetMetricsHistory("inst-1", 3)
	if len(history) > 3 {
		t.Errorf("history len = %d, want <= 3", len(history))
	}
}

func TestCheckMemoryLimit(t *testing.T) {
	m := New()
	pid := os.Getpid()
	m.StartMonitoring("inst-1", "cfg-1", pid, time.Now())
	m.sampleAll()

	if m.CheckMemoryLimit("inst-1", 0) {
		t.Error("non-positive limit should never violate")
	}

	sample, _ := m.GetMetrics("inst-1")
	if m.CheckMemoryLimit("inst-1", int64(sample.MemoryBytes)) {
		t.Error("exact equality should never violate")
	}
	if !m.CheckMemoryLimit("inst-1", int64(sample.MemoryBytes)-1) {
		t.Error("limit below current usage should violate")
	}
}

func TestCheckAllMemoryLimitsUnknownInstance(t *testing.T) {
	m := New()
	violators := m.CheckAllMemoryLimits(map[string]int64{"ghost": 1})
	if len(violators) != 0 {
		t.Errorf("expected no violators for unknown instance, got %v", violators)
	}
}

func TestCleanup(t *testing.T) {
	m := New()
	m.StartMonitoring("inst-1", "cfg-1", os.Getpid(), time.Now())
	m.Cleanup()
	if _, ok := m.GetMetrics("inst-1"); ok {
		t.Error("expected no state after Cleanup")
	}
}

func TestStartStopLoop(t *testing.T) {
	m := New()
	m.interval = 10 * time.Millisecond
	m.Start()
	time.Sleep(30 * time.Millisecond)
	m.Stop()
	// idempotent
	m.Stop()
}
