// Package monitor is the Monitor Manager: it samples CPU and memory usage
// for every running instance on a fixed tick and keeps a bounded history.
package monitor

import (
	"errors"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/nimbusdaemon/procd/pkg/log"
	"github.com/nimbusdaemon/procd/pkg/metrics"
	"github.com/nimbusdaemon/procd/pkg/ring"
	"github.com/nimbusdaemon/procd/pkg/types"
)

var errNotWatched = errors.New("instance not watched")

const (
	defaultInterval     = time.Second
	defaultHistoryDepth = 120
)

// Monitor samples resource usage for the set of PIDs registered through
// StartMonitoring and not yet removed by StopMonitoring.
type Monitor struct {
	interval time.Duration
	mu       sync.RWMutex
	watched  map[string]*watchedInstance
	stopCh   chan struct{}
	started  bool
}

type watchedInstance struct {
	configID  string
	pid       int
	startedAt time.Time
	proc      *process.Process
	history   *ring.Ring[types.Sample]
	latest    types.Sample
	restarts  int
}

// New creates a Monitor that samples on the default 1s interval.
func New() *Monitor {
	return &Monitor{interval: defaultInterval, watched: make(map[string]*watchedInstance)}
}

// Start begins the sampling loop.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	go m.loop()
}

// Stop halts the sampling loop. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	close(m.stopCh)
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sampleAll()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) sampleAll() {
	timer := metrics.NewTimer()
	m.mu.RLock()
	watched := make([]*watchedInstance, 0, len(m.watched))
	ids := make([]string, 0, len(m.watched))
	for id, w := range m.watched {
		watched = append(watched, w)
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for i, w := range watched {
		sample, err := m.sampleOne(ids[i], w)
		if err != nil {
			log.WithComponent("monitor").Debug().Err(err).Str("instance_id", ids[i]).Msg("sample failed")
			continue
		}
		m.mu.Lock()
		w.latest = sample
		w.history.Push(sample)
		m.mu.Unlock()
	}
	timer.ObserveDuration(metrics.MonitorSampleDuration)
}

func (m *Monitor) sampleOne(instanceID string, w *watchedInstance) (types.Sample, error) {
	cpuPercent, err := w.proc.Percent(0)
	if err != nil {
		return types.Sample{}, err
	}
	memInfo, err := w.proc.MemoryInfo()
	if err != nil {
		return types.Sample{}, err
	}

	sample := types.Sample{
		Time:        time.Now(),
		CPUPercent:  cpuPercent,
		MemoryBytes: memInfo.RSS,
		UptimeMs:    time.Since(w.startedAt).Milliseconds(),
		Restarts:    w.restarts,
	}
	metrics.InstanceCPUPercent.WithLabelValues(w.configID, instanceID).Set(cpuPercent)
	metrics.InstanceMemoryBytes.WithLabelValues(w.configID, instanceID).Set(float64(memInfo.RSS))
	return sample, nil
}

// StartMonitoring registers a PID for periodic sampling.
func (m *Monitor) StartMonitoring(instanceID, configID string, pid int, startedAt time.Time) error {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	// prime the internal CPU-time baseline so the first real sample has
	// something to diff against.
	_, _ = proc.Percent(0)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.watched[instanceID] = &watchedInstance{
		configID:  configID,
		pid:       pid,
		startedAt: startedAt,
		proc:      proc,
		history:   ring.New[types.Sample](defaultHistoryDepth),
	}
	return nil
}

// StopMonitoring unregisters an instance. Idempotent.
func (m *Monitor) StopMonitoring(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watched, instanceID)
}

// Rename relabels a watched instance from oldID to newID without resetting
// its history or proc handle, used when a cluster's instance count crosses
// the single/multi boundary and ids switch between "<id>" and "<id>_0".
func (m *Monitor) Rename(oldID, newID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watched[oldID]
	if !ok {
		return errNotWatched
	}
	delete(m.watched, oldID)
	m.watched[newID] = w
	return nil
}

// NoteRestart records a restart so subsequent samples report the updated
// count (the monitor does not own restart bookkeeping, only mirrors it).
func (m *Monitor) NoteRestart(instanceID string, restarts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.watched[instanceID]; ok {
		w.restarts = restarts
	}
}

// GetMetrics returns the latest sample for an instance.
func (m *Monitor) GetMetrics(instanceID string) (types.Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.watched[instanceID]
	if !ok {
		return types.Sample{}, false
	}
	return w.latest, true
}

// GetAllMetrics returns the latest sample for every monitored instance.
func (m *Monitor) GetAllMetrics() map[string]types.Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]types.Sample, len(m.watched))
	for id, w := range m.watched {
		out[id] = w.latest
	}
	return out
}

// GetMetricsHistory returns up to n of the most recent samples, oldest
// first, for an instance.
func (m *Monitor) GetMetricsHistory(instanceID string, n int) []types.Sample {
	m.mu.RLock()
	w, ok := m.watched[instanceID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	hist := w.history.Snapshot()
	if n > 0 && n < len(hist) {
		hist = hist[len(hist)-n:]
	}
	return hist
}

// CheckMemoryLimit reports whether an instance currently exceeds limit.
// A non-positive limit never violates; exact equality never violates.
func (m *Monitor) CheckMemoryLimit(instanceID string, limit int64) bool {
	if limit <= 0 {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.watched[instanceID]
	if !ok {
		return false
	}
	return int64(w.latest.MemoryBytes) > limit
}

// CheckAllMemoryLimits evaluates CheckMemoryLimit for every entry in limits
// (instance id -> limit in bytes) in one locked pass, returning the ids of
// violating instances.
func (m *Monitor) CheckAllMemoryLimits(limits map[string]int64) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var violators []string
	for id, limit := range limits {
		if limit <= 0 {
			continue
		}
		w, ok := m.watched[id]
		if !ok {
			continue
		}
		if int64(w.latest.MemoryBytes) > limit {
			violators = append(violators, id)
		}
	}
	return violators
}

// Cleanup drops all monitored state. It does not stop the sampling loop.
func (m *Monitor) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watched = make(map[string]*watchedInstance)
}
