package supervisor

import "github.com/nimbusdaemon/procd/pkg/types"

// restartPolicy decides whether an instance that exited on its own should
// be respawned, per spec.md's fixed-delay (no jitter) restart policy.
type restartPolicy struct {
	autoRestart bool
	maxRestarts int
	delayMs     int
}

func policyFor(cfg *types.ProcessConfig) restartPolicy {
	return restartPolicy{
		autoRestart: cfg.AutoRestart,
		maxRestarts: cfg.MaxRestarts,
		delayMs:     cfg.RestartDelayMs,
	}
}

// shouldRestart reports whether a spawn with the given restart count
// (already incremented for the exit that just happened) stays under budget.
func (p restartPolicy) shouldRestart(stopRequested bool, restartCount int) bool {
	if stopRequested || !p.autoRestart {
		return false
	}
	return restartCount <= p.maxRestarts
}
