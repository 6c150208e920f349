package supervisor

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nimbusdaemon/procd/pkg/logs"
	"github.com/nimbusdaemon/procd/pkg/monitor"
	"github.com/nimbusdaemon/procd/pkg/types"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *monitor.Monitor) {
	t.Helper()
	logMgr, err := logs.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	mon := monitor.New()
	return New(logMgr, mon), mon
}

func sleeperConfig(id string) *types.ProcessConfig {
	return &types.ProcessConfig{
		ID:          id,
		Name:        id,
		Script:      "/bin/sh",
		Args:        []string{"-c", "sleep 30"},
		Instances:   1,
		AutoRestart: false,
	}
}

// entryByID returns the List() row with the given id, or nil.
func entryByID(entries []types.ListEntry, id string) *types.ListEntry {
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i]
		}
	}
	return nil
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

func TestStartListStop(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	cfg := sleeperConfig("web")

	if err := sup.Start(cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}

	entries := sup.List()
	e := entryByID(entries, "web")
	if e == nil {
		t.Fatal("expected entry for web")
	}
	if e.Status != types.StatusRunning {
		t.Errorf("status = %s, want running", e.Status)
	}
	if e.PID == 0 {
		t.Error("expected non-zero pid")
	}

	if err := sup.Stop("web"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	e = entryByID(sup.List(), "web")
	if e == nil || e.Status != types.StatusStopped {
		t.Fatalf("expected stopped entry, got %+v", e)
	}
}

func TestStartDuplicateRejected(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	cfg := sleeperConfig("dup")

	if err := sup.Start(cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop("dup")

	if err := sup.Start(cfg); err != ErrAlreadyExists {
		t.Fatalf("second Start err = %v, want ErrAlreadyExists", err)
	}
}

func TestStopUnknownReturnsNotFound(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	if err := sup.Stop("ghost"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStopByName(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	cfg := sleeperConfig("worker-1")
	cfg.Name = "worker"

	if err := sup.Start(cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sup.Stop("worker"); err != nil {
		t.Fatalf("Stop by name: %v", err)
	}
	e := entryByID(sup.List(), "worker-1")
	if e == nil || e.Status != types.StatusStopped {
		t.Fatalf("expected stopped entry, got %+v", e)
	}
}

func TestRestartBudgetExhaustionCountsAgainstMaxRestarts(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	cfg := &types.ProcessConfig{
		ID:             "crasher",
		Name:           "crasher",
		Script:         "/bin/sh",
		Args:           []string{"-c", "exit 1"},
		Instances:      1,
		AutoRestart:    true,
		MaxRestarts:    2,
		RestartDelayMs: 10,
	}

	if err := sup.Start(cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitUntil(t, 3*time.Second, func() bool {
		e := entryByID(sup.List(), "crasher")
		return e != nil && e.Status == types.StatusErrored
	})

	e := entryByID(sup.List(), "crasher")
	if e.RestartCount != cfg.MaxRestarts {
		t.Errorf("restartCount = %d, want %d", e.RestartCount, cfg.MaxRestarts)
	}
}

func TestManualRestartResetsRestartCount(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	cfg := &types.ProcessConfig{
		ID:             "flappy",
		Name:           "flappy",
		Script:         "/bin/sh",
		Args:           []string{"-c", "exit 1"},
		Instances:      1,
		AutoRestart:    true,
		MaxRestarts:    1,
		RestartDelayMs: 200,
	}

	if err := sup.Start(cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, 3*time.Second, func() bool {
		e := entryByID(sup.List(), "flappy")
		return e != nil && e.Status == types.StatusErrored
	})

	if err := sup.Restart("flappy"); err != nil {
		t.Fatalf("Restart: %v", err)
	}

	// The freshly spawned instance starts at restartCount 0 regardless of
	// how quickly it crashes again; the 200ms restart delay above gives us
	// a window to observe it before the crash loop respawns it.
	e := entryByID(sup.List(), "flappy")
	if e == nil {
		t.Fatal("expected entry after restart")
	}
	if e.RestartCount != 0 {
		t.Errorf("restartCount after manual restart = %d, want 0", e.RestartCount)
	}
}

func TestScaleUpAndDownRenamesAcrossClusterBoundary(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	cfg := sleeperConfig("svc")

	if err := sup.Start(cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := sup.Scale("svc", 3); err != nil {
		t.Fatalf("Scale up: %v", err)
	}
	entries := sup.List()
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	for _, id := range []string{"svc_0", "svc_1", "svc_2"} {
		if entryByID(entries, id) == nil {
			t.Errorf("missing entry %s after scale up: %+v", id, entries)
		}
	}

	if err := sup.Scale("svc", 1); err != nil {
		t.Fatalf("Scale down: %v", err)
	}
	entries = sup.List()
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entryByID(entries, "svc") == nil {
		t.Errorf("expected instance renamed back to bare id, got %+v", entries)
	}
}

func TestScaleRejectsNonPositiveTarget(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	cfg := sleeperConfig("scaleme")
	if err := sup.Start(cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sup.Scale("scaleme", 0); err == nil {
		t.Error("expected error scaling to 0")
	}
}

func TestDeleteSingleInstanceThenWholeGroup(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	cfg := sleeperConfig("clus")
	cfg.Instances = 2

	if err := sup.Start(cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := sup.Delete("clus_0", true); err != nil {
		t.Fatalf("Delete instance: %v", err)
	}
	entries := sup.List()
	if len(entries) != 1 || entryByID(entries, "clus_1") == nil {
		t.Fatalf("expected only clus_1 to remain, got %+v", entries)
	}

	if err := sup.Delete("clus", true); err != nil {
		t.Fatalf("Delete group: %v", err)
	}
	if len(sup.List()) != 0 {
		t.Fatalf("expected empty process table, got %+v", sup.List())
	}
	if err := sup.Delete("clus", true); err != ErrNotFound {
		t.Fatalf("second Delete err = %v, want ErrNotFound", err)
	}
}

func TestMemoryLimitRestartCountsAgainstBudgetSeparatelyFromManualRestart(t *testing.T) {
	sup, mon := newTestSupervisor(t)
	mon.Start()
	defer mon.Stop()

	cfg := &types.ProcessConfig{
		ID:             "hog",
		Name:           "hog",
		Script:         "/bin/sh",
		Args:           []string{"-c", "sleep 30"},
		Instances:      1,
		AutoRestart:    false,
		MaxRestarts:    1,
		MemoryLimit:    1, // bytes: any live process violates this
		RestartDelayMs: 10,
	}
	if err := sup.Start(cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitUntil(t, 3*time.Second, func() bool {
		sample, ok := mon.GetMetrics("hog")
		return ok && sample.MemoryBytes > 0
	})

	sup.checkMemoryLimits()
	waitUntil(t, 2*time.Second, func() bool {
		e := entryByID(sup.List(), "hog")
		return e != nil && e.RestartCount == 1
	})
	e := entryByID(sup.List(), "hog")
	if e.Status != types.StatusRunning {
		t.Fatalf("after first memory-limit restart, status = %s, want running", e.Status)
	}

	waitUntil(t, 3*time.Second, func() bool {
		sample, ok := mon.GetMetrics("hog")
		return ok && sample.MemoryBytes > 0
	})
	sup.checkMemoryLimits()

	waitUntil(t, 2*time.Second, func() bool {
		e := entryByID(sup.List(), "hog")
		return e != nil && e.Status == types.StatusErrored
	})
	e = entryByID(sup.List(), "hog")
	if e.RestartCount != 1 {
		t.Errorf("restartCount at exhaustion = %d, want 1 (still counts against maxRestarts, unlike a manual restart)", e.RestartCount)
	}
}

func TestClusterPortAssignmentUsesConfigEnvNotDaemonEnv(t *testing.T) {
	t.Setenv("PORT", "9999") // the daemon's own PORT must not be the value the child sees
	sup, _ := newTestSupervisor(t)
	cfg := sleeperConfig("b")
	cfg.Instances = 3
	cfg.Env = map[string]string{"PORT": "4000"}

	if err := sup.Start(cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}

	g := sup.groups["b"]
	if g == nil {
		t.Fatal("expected group for b")
	}
	wantPort := map[int]string{0: "PORT=4000", 1: "PORT=4001", 2: "PORT=4002"}
	for idx, want := range wantPort {
		inst := g.instances[idx]
		if inst == nil || inst.cmd == nil {
			t.Fatalf("missing instance/cmd for index %d", idx)
		}
		if !envResolvesTo(inst.cmd.Env, want) {
			t.Errorf("instance %d env = %v, want %q as the effective value", idx, inst.cmd.Env, want)
		}
		wantInstance := fmt.Sprintf("NODE_APP_INSTANCE=%d", idx)
		if !envContains(inst.cmd.Env, wantInstance) {
			t.Errorf("instance %d env missing %q", idx, wantInstance)
		}
	}
}

func envContains(env []string, want string) bool {
	for _, kv := range env {
		if kv == want {
			return true
		}
	}
	return false
}

// envResolvesTo checks that want's key appears with want's value as the
// last occurrence, the way a process actually resolves duplicate env keys.
func envResolvesTo(env []string, want string) bool {
	key := strings.SplitN(want, "=", 2)[0] + "="
	last := ""
	for _, kv := range env {
		if strings.HasPrefix(kv, key) {
			last = kv
		}
	}
	return last == want
}

func TestCloseStopsAllRunningInstances(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	if err := sup.Start(sleeperConfig("a")); err != nil {
		t.Fatalf("Start a: %v", err)
	}
	if err := sup.Start(sleeperConfig("b")); err != nil {
		t.Fatalf("Start b: %v", err)
	}

	sup.Close()

	for _, id := range []string{"a", "b"} {
		e := entryByID(sup.List(), id)
		if e == nil || e.Status != types.StatusStopped {
			t.Errorf("entry %s = %+v, want stopped", id, e)
		}
	}
}
