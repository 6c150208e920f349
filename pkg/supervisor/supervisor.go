// Package supervisor is the Process Supervisor: it owns the process table,
// drives the per-instance lifecycle state machine, and is the only package
// that spawns, signals, and reaps child processes.
package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/nimbusdaemon/procd/pkg/log"
	"github.com/nimbusdaemon/procd/pkg/logs"
	"github.com/nimbusdaemon/procd/pkg/metrics"
	"github.com/nimbusdaemon/procd/pkg/monitor"
	"github.com/nimbusdaemon/procd/pkg/types"
)

// Errors surfaced to the IPC layer, per spec.md §4.4's failure semantics.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

const (
	defaultGracefulShutdownMs = 5000
	memoryCheckInterval       = time.Second
)

// Supervisor owns every config's group and is the single writer of the
// process table. Reads (List, Snapshot) take a read lock; every mutating
// operation takes the supervisor lock only long enough to find or create a
// group, then serializes on that group's own mutex so unrelated configs
// never block each other.
type Supervisor struct {
	logMgr *logs.Manager
	mon    *monitor.Monitor
	ports  *portAssigner

	gracefulShutdownMs int

	mu     sync.RWMutex
	groups map[string]*group // configID -> group
	byName map[string]string // name -> configID

	stopCh  chan struct{}
	started bool
}

// New builds a Supervisor backed by the given log and monitor managers.
func New(logMgr *logs.Manager, mon *monitor.Monitor) *Supervisor {
	return &Supervisor{
		logMgr:             logMgr,
		mon:                mon,
		ports:              newPortAssigner(),
		gracefulShutdownMs: defaultGracefulShutdownMs,
		groups:             make(map[string]*group),
		byName:             make(map[string]string),
	}
}

// Run starts the background memory-limit enforcement loop. Idempotent.
func (s *Supervisor) Run() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	go s.enforceMemoryLimits()
}

// Close stops the enforcement loop and gracefully stops every running
// instance, for full daemon shutdown.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.started {
		s.started = false
		close(s.stopCh)
	}
	groups := make([]*group, 0, len(s.groups))
	for _, g := range s.groups {
		groups = append(groups, g)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, g := range groups {
		wg.Add(1)
		go func(g *group) {
			defer wg.Done()
			g.mu.Lock()
			defer g.mu.Unlock()
			s.stopInstances(g.all(), false)
		}(g)
	}
	wg.Wait()
}

func (s *Supervisor) enforceMemoryLimits() {
	ticker := time.NewTicker(memoryCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.checkMemoryLimits()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Supervisor) checkMemoryLimits() {
	s.mu.RLock()
	groups := make([]*group, 0, len(s.groups))
	for _, g := range s.groups {
		groups = append(groups, g)
	}
	s.mu.RUnlock()

	limits := make(map[string]int64)
	for _, g := range groups {
		if g.cfg.MemoryLimit <= 0 {
			continue
		}
		g.mu.Lock()
		for _, inst := range g.instances {
			limits[inst.id] = g.cfg.MemoryLimit
		}
		g.mu.Unlock()
	}

	if len(limits) == 0 {
		return
	}
	for _, instanceID := range s.mon.CheckAllMemoryLimits(limits) {
		g, inst, ok := s.findInstance(instanceID)
		if !ok {
			continue
		}
		log.WithComponent("supervisor").Warn().Str("instance_id", instanceID).Msg("memory limit exceeded, restarting")
		metrics.MemoryLimitKillsTotal.WithLabelValues(g.cfg.ID).Inc()
		go func(g *group, inst *instance) {
			g.mu.Lock()
			defer g.mu.Unlock()
			// The instance may already have been replaced or removed by the
			// time this goroutine acquires the group lock.
			if current, ok := g.instances[inst.index]; !ok || current != inst {
				return
			}
			s.restartForMemoryLimit(g, inst)
		}(g, inst)
	}
}

// Start registers a config and spawns all of its instances.
func (s *Supervisor) Start(cfg *types.ProcessConfig) error {
	s.mu.Lock()
	if _, exists := s.groups[cfg.ID]; exists {
		s.mu.Unlock()
		return ErrAlreadyExists
	}
	g := newGroup(cfg)
	s.groups[cfg.ID] = g
	s.byName[cfg.Name] = cfg.ID
	s.mu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for i := 0; i < cfg.Instances; i++ {
		inst := s.spawnInstance(cfg, i)
		g.instances[i] = inst
		if inst.status == types.StatusErrored {
			errs = append(errs, fmt.Errorf("instance %s: spawn failed", inst.id))
		}
	}
	return errors.Join(errs...)
}

// spawnInstance starts one child process and launches its monitoring
// goroutine. It never returns an error: a failed spawn yields an instance
// record in StatusErrored instead, matching spec.md's "spawn error ⇒
// errored, surfaced in the IPC response" semantics.
func (s *Supervisor) spawnInstance(cfg *types.ProcessConfig, index int) *instance {
	timer := metrics.NewTimer()
	id := instanceID(cfg, index)
	clog := log.WithInstanceID(id)

	inst := &instance{
		id:       id,
		configID: cfg.ID,
		index:    index,
		status:   types.StatusStarting,
		doneCh:   make(chan struct{}),
	}

	cmd := exec.Command(cfg.Script, cfg.Args...)
	cmd.Dir = cfg.Cwd
	port, hasPort := s.ports.assign(cfg.ID, index, cfg.Env["PORT"])
	cmd.Env = buildEnv(cfg, index, port, hasPort)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		clog.Error().Err(err).Msg("failed to open stdout pipe")
		inst.status = types.StatusErrored
		return inst
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		clog.Error().Err(err).Msg("failed to open stderr pipe")
		inst.status = types.StatusErrored
		return inst
	}

	if err := cmd.Start(); err != nil {
		clog.Error().Err(err).Str("script", cfg.Script).Msg("failed to start process")
		inst.status = types.StatusErrored
		return inst
	}

	inst.cmd = cmd
	inst.pid = cmd.Process.Pid
	inst.startedAt = time.Now()
	inst.status = types.StatusRunning

	clog.Info().Int("pid", inst.pid).Str("script", cfg.Script).Msg("instance started")

	go s.captureOutput(inst, cfg.ID, stdout, stderr)
	if err := s.mon.StartMonitoring(id, cfg.ID, inst.pid, inst.startedAt); err != nil {
		clog.Warn().Err(err).Msg("failed to register instance with monitor")
	}
	go s.monitorInstance(cfg, inst)

	timer.ObserveDuration(metrics.InstanceStartDuration)
	return inst
}

func (s *Supervisor) captureOutput(inst *instance, configID string, stdout, stderr io.Reader) {
	if err := s.logMgr.CaptureOutput(inst.id, configID, stdout, stderr); err != nil {
		log.WithInstanceID(inst.id).Warn().Err(err).Msg("log capture ended with error")
	}
}

// monitorInstance waits for the child to exit and applies the restart
// policy, mirroring the teacher's monitorInstance/superviseProcess loop.
func (s *Supervisor) monitorInstance(cfg *types.ProcessConfig, inst *instance) {
	defer close(inst.doneCh)

	err := inst.cmd.Wait()

	inst.mu.Lock()
	code, signal := exitInfo(inst.cmd.ProcessState)
	inst.exitCode = code
	inst.exitSignal = signal
	inst.stoppedAt = time.Now()
	stopRequested := inst.stopRequested
	priorRestarts := inst.restartCount
	inst.mu.Unlock()

	clog := log.WithInstanceID(inst.id)
	if err != nil && !stopRequested {
		clog.Error().Int("exit_code", code).Str("signal", signal).Msg("instance exited unexpectedly")
	} else {
		clog.Info().Int("exit_code", code).Msg("instance exited")
	}

	policy := policyFor(cfg)
	attempt := priorRestarts + 1
	if !policy.shouldRestart(stopRequested, attempt) {
		inst.mu.Lock()
		if stopRequested || (!policy.autoRestart && code == 0) {
			inst.status = types.StatusStopped
		} else {
			inst.status = types.StatusErrored
			if policy.autoRestart {
				metrics.RestartBudgetExhaustedTotal.WithLabelValues(cfg.ID).Inc()
			}
		}
		inst.mu.Unlock()
		s.mon.StopMonitoring(inst.id)
		return
	}

	reason := "crash"
	if code == 0 {
		reason = "normal_exit"
	}
	metrics.RestartsTotal.WithLabelValues(cfg.ID, reason).Inc()

	select {
	case <-time.After(time.Duration(policy.delayMs) * time.Millisecond):
	case <-s.stopCh:
		return
	}

	g, ok := s.groupFor(cfg.ID)
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	// The group may have been deleted, scaled down past this index, or
	// already replaced this index by the time the backoff elapsed.
	current, stillPresent := g.instances[inst.index]
	if !stillPresent || current != inst {
		return
	}

	newInst := s.spawnInstance(cfg, inst.index)
	newInst.mu.Lock()
	newInst.restartCount = attempt
	newInst.mu.Unlock()
	g.instances[inst.index] = newInst
}

// Stop resolves identifier to one or more instances and stops them
// gracefully, disabling autorestart for each.
func (s *Supervisor) Stop(identifier string) error {
	g, instances, _, err := s.resolve(identifier)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	s.stopInstances(instances, false)
	return nil
}

// stopInstances sends SIGTERM (or SIGKILL when force) to each instance's
// process group and waits up to gracefulShutdownMs before escalating to
// SIGKILL. Caller must hold the owning group's mutex.
func (s *Supervisor) stopInstances(instances []*instance, force bool) {
	var wg sync.WaitGroup
	for _, inst := range instances {
		wg.Add(1)
		go func(inst *instance) {
			defer wg.Done()
			s.stopInstance(inst, force)
		}(inst)
	}
	wg.Wait()
}

func (s *Supervisor) stopInstance(inst *instance, force bool) {
	inst.mu.Lock()
	if inst.status != types.StatusRunning && inst.status != types.StatusStarting {
		inst.mu.Unlock()
		return
	}
	inst.status = types.StatusStopping
	inst.stopRequested = true
	pid := inst.pid
	inst.mu.Unlock()

	if pid == 0 {
		return
	}
	timer := metrics.NewTimer()
	clog := log.WithInstanceID(inst.id)

	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	if pgid, err := syscall.Getpgid(pid); err == nil {
		_ = syscall.Kill(-pgid, sig)
	} else {
		_ = inst.cmd.Process.Signal(sig)
	}

	if !force {
		select {
		case <-inst.doneCh:
		case <-time.After(time.Duration(s.gracefulShutdownMs) * time.Millisecond):
			clog.Warn().Msg("graceful shutdown timed out, sending SIGKILL")
			if pgid, err := syscall.Getpgid(pid); err == nil {
				_ = syscall.Kill(-pgid, syscall.SIGKILL)
			} else {
				_ = inst.cmd.Process.Kill()
			}
			<-inst.doneCh
		}
	} else {
		<-inst.doneCh
	}

	inst.mu.Lock()
	inst.status = types.StatusStopped
	inst.mu.Unlock()
	s.mon.StopMonitoring(inst.id)
	timer.ObserveDuration(metrics.InstanceStopDuration)
}

// Restart stops then starts every instance resolved from identifier with
// the same config, resetting restartCount to 0.
func (s *Supervisor) Restart(identifier string) error {
	g, instances, _, err := s.resolve(identifier)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, inst := range instances {
		s.stopInstance(inst, false)
		newInst := s.spawnInstance(g.cfg, inst.index)
		g.instances[inst.index] = newInst
	}
	return nil
}

// restartForMemoryLimit respawns inst after a memory-limit violation. Unlike
// a manual restart, this counts against the config's maxRestarts budget
// (spec.md §4.3: "the restart counts against maxRestarts"), so repeated
// violations eventually land the instance in errored rather than looping
// forever. Caller must hold g.mu.
func (s *Supervisor) restartForMemoryLimit(g *group, inst *instance) {
	inst.mu.Lock()
	priorRestarts := inst.restartCount
	inst.mu.Unlock()

	policy := policyFor(g.cfg)
	attempt := priorRestarts + 1
	s.stopInstance(inst, false)

	if attempt > policy.maxRestarts {
		inst.mu.Lock()
		inst.status = types.StatusErrored
		inst.mu.Unlock()
		metrics.RestartBudgetExhaustedTotal.WithLabelValues(g.cfg.ID).Inc()
		return
	}

	newInst := s.spawnInstance(g.cfg, inst.index)
	newInst.mu.Lock()
	newInst.restartCount = attempt
	newInst.mu.Unlock()
	g.instances[inst.index] = newInst
	metrics.RestartsTotal.WithLabelValues(g.cfg.ID, "memory_limit").Inc()
}

// Scale adjusts a config's instance count up or down, renaming the
// surviving instance across the single/multi naming boundary when needed.
func (s *Supervisor) Scale(configID string, n int) error {
	if n <= 0 {
		return fmt.Errorf("target scale must be positive")
	}
	g, ok := s.groupFor(configID)
	if !ok {
		return ErrNotFound
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	current := len(g.instances)
	clusterBefore := g.cfg.ClusterMode()

	switch {
	case n > current:
		// Set Instances before spawning so instanceID() computes ids under
		// the post-scale cluster mode (a 1->2 scale spawns "id_1", not a
		// bare "id").
		g.cfg.Instances = n
		if !clusterBefore && current == 1 {
			s.renameInstance(g, 0, instanceID(g.cfg, 0))
		}
		for i := current; i < n; i++ {
			inst := s.spawnInstance(g.cfg, i)
			g.instances[i] = inst
		}
	case n < current:
		toStop := make([]*instance, 0, current-n)
		for i := current - 1; i >= n; i-- {
			toStop = append(toStop, g.instances[i])
			delete(g.instances, i)
		}
		s.stopInstances(toStop, false)
		for _, inst := range toStop {
			s.logMgr.Remove(inst.id)
		}
		g.cfg.Instances = n
		if n == 1 {
			s.renameInstance(g, 0, g.cfg.ID)
		}
	default:
		// n == current: no-op.
	}
	return nil
}

// renameInstance relabels instance at index (still running) to newID,
// used when scale crosses the single/multi naming boundary. Caller holds
// g.mu.
func (s *Supervisor) renameInstance(g *group, index int, newID string) {
	inst, ok := g.instances[index]
	if !ok {
		return
	}
	inst.mu.Lock()
	oldID := inst.id
	if oldID == newID {
		inst.mu.Unlock()
		return
	}
	inst.id = newID
	inst.mu.Unlock()

	if err := s.logMgr.Rename(oldID, newID); err != nil {
		log.WithComponent("supervisor").Warn().Err(err).Str("old", oldID).Str("new", newID).Msg("log rename failed")
	}
	if err := s.mon.Rename(oldID, newID); err != nil {
		log.WithComponent("supervisor").Warn().Err(err).Str("old", oldID).Str("new", newID).Msg("monitor rename failed")
	}
}

// Delete stops and removes every instance resolved from identifier, drops
// their in-memory log state and monitor registration, and closes their log
// files. The log files themselves stay on disk. Deleting a whole config also
// drops its group and frees its assigned port base.
func (s *Supervisor) Delete(identifier string, force bool) error {
	g, instances, wholeGroup, err := s.resolve(identifier)
	if err != nil {
		return err
	}

	g.mu.Lock()
	s.stopInstances(instances, force)
	for _, inst := range instances {
		delete(g.instances, inst.index)
		s.logMgr.Remove(inst.id)
	}
	remaining := len(g.instances)
	g.mu.Unlock()

	if wholeGroup || remaining == 0 {
		s.mu.Lock()
		delete(s.groups, g.cfg.ID)
		delete(s.byName, g.cfg.Name)
		s.mu.Unlock()
		s.ports.release(g.cfg.ID)
	}
	return nil
}

// Configs returns the registered config for every group, one entry per
// config regardless of its instance count — used by the `save` command to
// persist the running set back to an ecosystem file.
func (s *Supervisor) Configs() []*types.ProcessConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.ProcessConfig, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g.cfg)
	}
	return out
}

// List returns a flattened snapshot of the whole process table.
func (s *Supervisor) List() []types.ListEntry {
	s.mu.RLock()
	groups := make([]*group, 0, len(s.groups))
	for _, g := range s.groups {
		groups = append(groups, g)
	}
	s.mu.RUnlock()

	var out []types.ListEntry
	for _, g := range groups {
		g.mu.Lock()
		instances := g.all()
		g.mu.Unlock()
		for _, inst := range instances {
			snap := inst.snapshot()
			sample, _ := s.mon.GetMetrics(snap.ID)
			out = append(out, types.ListEntry{
				ID:           snap.ID,
				Name:         g.cfg.Name,
				ConfigID:     g.cfg.ID,
				PID:          snap.PID,
				Status:       snap.Status,
				RestartCount: snap.RestartCount,
				UptimeMs:     sample.UptimeMs,
				CPUPercent:   sample.CPUPercent,
				MemoryBytes:  sample.MemoryBytes,
			})
		}
	}
	return out
}

// Snapshot implements metrics.Source.
func (s *Supervisor) Snapshot() []metrics.InstanceSnapshot {
	entries := s.List()
	out := make([]metrics.InstanceSnapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, metrics.InstanceSnapshot{
			ConfigID:    e.ConfigID,
			InstanceID:  e.ID,
			Status:      string(e.Status),
			CPUPercent:  e.CPUPercent,
			MemoryBytes: e.MemoryBytes,
		})
	}
	return out
}

// ConfigCount implements metrics.Source.
func (s *Supervisor) ConfigCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.groups)
}

func (s *Supervisor) groupFor(configID string) (*group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[configID]
	return g, ok
}

// findInstance scans every group's instance table for instanceID, taking
// each group's own mutex only for the duration of that group's scan so it
// never races Scale/Delete mutating the map it's reading.
func (s *Supervisor) findInstance(instanceID string) (*group, *instance, bool) {
	s.mu.RLock()
	groups := make([]*group, 0, len(s.groups))
	for _, g := range s.groups {
		groups = append(groups, g)
	}
	s.mu.RUnlock()

	for _, g := range groups {
		g.mu.Lock()
		for _, inst := range g.instances {
			if inst.id == instanceID {
				g.mu.Unlock()
				return g, inst, true
			}
		}
		g.mu.Unlock()
	}
	return nil, nil, false
}

// resolve finds the group and matching instances for identifier, which may
// be a config id, a name, or a single instance id. wholeGroup reports
// whether identifier named the whole config (so callers like Delete know
// to drop the group once its instances are gone) as opposed to one member.
// The returned instances slice is a snapshot taken under the group's own
// mutex; callers that go on to mutate the group must reacquire g.mu
// themselves (instance operations are independently guarded by inst.mu, so
// acting on a since-removed snapshot entry is safe, just a no-op).
func (s *Supervisor) resolve(identifier string) (g *group, instances []*instance, wholeGroup bool, err error) {
	s.mu.RLock()
	matched, ok := s.groups[identifier]
	if !ok {
		if cfgID, nameOK := s.byName[identifier]; nameOK {
			matched, ok = s.groups[cfgID]
		}
	}
	s.mu.RUnlock()

	if ok {
		matched.mu.Lock()
		all := matched.all()
		matched.mu.Unlock()
		return matched, all, true, nil
	}

	if g, inst, ok := s.findInstance(identifier); ok {
		return g, []*instance{inst}, false, nil
	}
	return nil, nil, false, ErrNotFound
}
