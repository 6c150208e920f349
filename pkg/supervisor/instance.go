package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/nimbusdaemon/procd/pkg/types"
)

// instance is the supervisor's private runtime record for one spawned
// process. types.ProcessInstance (the value handed out over IPC) is
// derived from this on demand rather than kept in lockstep.
type instance struct {
	mu sync.Mutex

	id       string
	configID string
	index    int

	cmd *exec.Cmd
	pid int

	status        types.Status
	startedAt     time.Time
	stoppedAt     time.Time
	restartCount  int
	exitCode      int
	exitSignal    string
	stopRequested bool

	// doneCh is closed by the monitoring goroutine once cmd.Wait() returns,
	// the same doneCh pattern the reference supervisors use so a concurrent
	// stop() can block on exit without racing a second Wait() call.
	doneCh chan struct{}
}

func instanceID(cfg *types.ProcessConfig, index int) string {
	if cfg.ClusterMode() {
		return fmt.Sprintf("%s_%d", cfg.ID, index)
	}
	return cfg.ID
}

// buildEnv merges the parent environment, the config's own env, the
// per-instance NODE_APP_INSTANCE marker, and (when available) a cluster
// PORT=base+index assignment.
func buildEnv(cfg *types.ProcessConfig, index, port int, hasPort bool) []string {
	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	env = append(env, fmt.Sprintf("NODE_APP_INSTANCE=%d", index))
	if hasPort {
		env = append(env, fmt.Sprintf("PORT=%d", port))
	}
	return env
}

// exitInfo extracts the exit code and, if the process was signaled, the
// signal name from a finished os.ProcessState.
func exitInfo(ps *os.ProcessState) (code int, signal string) {
	if ps == nil {
		return -1, ""
	}
	code = ps.ExitCode()
	if status, ok := ps.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		signal = status.Signal().String()
	}
	return code, signal
}

// snapshot converts the internal record to the public ProcessInstance shape.
func (inst *instance) snapshot() types.ProcessInstance {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return types.ProcessInstance{
		ID:            inst.id,
		ConfigID:      inst.configID,
		Index:         inst.index,
		PID:           inst.pid,
		Status:        inst.status,
		StartedAt:     inst.startedAt,
		StoppedAt:     inst.stoppedAt,
		RestartCount:  inst.restartCount,
		ExitCode:      inst.exitCode,
		ExitSignal:    inst.exitSignal,
		StopRequested: inst.stopRequested,
	}
}
