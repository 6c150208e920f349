package types

import "time"

// ProcessConfig is a user-provided, immutable-once-accepted description of a
// managed process. It is the unit saved to and loaded from an ecosystem file.
type ProcessConfig struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Script         string            `json:"script"`
	Args           []string          `json:"args,omitempty"`
	Cwd            string            `json:"cwd"`
	Env            map[string]string `json:"env,omitempty"`
	Instances      int               `json:"instances"`
	AutoRestart    bool              `json:"autorestart"`
	MaxRestarts    int               `json:"maxRestarts"`
	MemoryLimit    int64             `json:"memoryLimit"` // bytes, 0 = unlimited
	RestartDelayMs int               `json:"restartDelayMs"`
}

// ClusterMode reports whether a config runs as a single instance or a
// cluster of identical instances distinguished by index.
func (c *ProcessConfig) ClusterMode() bool {
	return c.Instances > 1
}

// Status is the lifecycle state of a ProcessInstance.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusErrored  Status = "errored"
)

// ProcessInstance is the runtime record for one live or previously-live
// instance of a ProcessConfig.
type ProcessInstance struct {
	ID           string `json:"id"` // equals ConfigID when Instances==1, else "<id>_<index>"
	ConfigID     string `json:"configId"`
	Index        int    `json:"index"`
	PID          int    `json:"pid,omitempty"`
	Status       Status `json:"status"`
	StartedAt    time.Time `json:"startedAt,omitempty"`
	StoppedAt    time.Time `json:"stoppedAt,omitempty"`
	RestartCount int       `json:"restartCount"`
	ExitCode     int       `json:"exitCode"`
	ExitSignal   string    `json:"exitSignal,omitempty"`

	// StopRequested marks a manual stop, which disables autorestart for
	// this instance until the next explicit start.
	StopRequested bool `json:"-"`
}

// Uptime returns how long the instance has been running, or zero if it
// isn't currently running.
func (p *ProcessInstance) Uptime() time.Duration {
	if p.Status != StatusRunning || p.StartedAt.IsZero() {
		return 0
	}
	return time.Since(p.StartedAt)
}

// Stream identifies which child file descriptor a log line came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"

	// StreamMeta marks a synthetic line generated by the log manager itself
	// (e.g. the sentinel sent to stream subscribers when their instance is
	// deleted out from under them) rather than captured from the child.
	StreamMeta Stream = "meta"
)

// LogLine is one decoded, timestamped line of child output.
type LogLine struct {
	Time   time.Time `json:"time"`
	Stream Stream    `json:"stream"`
	Text   string    `json:"text"`
}

// Sample is one point-in-time resource reading for an instance.
type Sample struct {
	Time        time.Time `json:"time"`
	CPUPercent  float64   `json:"cpuPercent"`
	MemoryBytes uint64    `json:"memoryBytes"`
	UptimeMs    int64     `json:"uptimeMs"`
	Restarts    int       `json:"restarts"`
}

// ListEntry is the per-instance row returned by the list() operation: a
// flattened view joining config, instance, and latest sample.
type ListEntry struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ConfigID     string    `json:"configId"`
	PID          int       `json:"pid,omitempty"`
	Status       Status    `json:"status"`
	RestartCount int       `json:"restartCount"`
	UptimeMs     int64     `json:"uptimeMs"`
	CPUPercent   float64   `json:"cpuPercent"`
	MemoryBytes  uint64    `json:"memoryBytes"`
}
