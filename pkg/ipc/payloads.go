package ipc

import "github.com/nimbusdaemon/procd/pkg/types"

// StartPayload is the start command's request payload: a full process
// config, normalized and validated by the caller (procctl reads it from an
// ecosystem file via pkg/config before sending it over the wire).
type StartPayload = types.ProcessConfig

// IdentifierPayload is shared by stop and restart, both of which resolve a
// config id, instance id, or name to one or more instances.
type IdentifierPayload struct {
	Identifier string `json:"identifier"`
}

// DeletePayload is the delete command's request payload.
type DeletePayload struct {
	Identifier string `json:"identifier"`
	Force      bool   `json:"force,omitempty"`
}

// ScalePayload is the scale command's request payload.
type ScalePayload struct {
	ConfigID  string `json:"configId"`
	Instances int    `json:"instances"`
}

// LogsPayload is the logs command's request payload. Lines<=0 returns every
// line held in the instance's ring; Stream=true turns the response into a
// sequence of pushed frames instead of a single one (Lines, Filter and
// UseRegex are not applied to a stream).
type LogsPayload struct {
	Identifier string `json:"identifier"`
	Lines      int    `json:"lines,omitempty"`
	Filter     string `json:"filter,omitempty"`
	UseRegex   bool   `json:"useRegex,omitempty"`
	Stream     bool   `json:"stream,omitempty"`
}

// LogsData is the non-streaming logs response payload.
type LogsData struct {
	Lines    []types.LogLine `json:"lines"`
	Total    int             `json:"total"`
	Filtered int             `json:"filtered"`
}

// FilePayload is shared by save and load; an empty Path means "the
// daemon's default ecosystem file".
type FilePayload struct {
	Path string `json:"path,omitempty"`
}

// LoadData reports what a load produced: every accepted config that was
// started, plus any validation problems collected along the way.
type LoadData struct {
	Started []string `json:"started"`
	Errors  []string `json:"errors,omitempty"`
}

// StatusData is the daemon-level summary returned by the status command,
// distinct from list's per-instance detail (SPEC_FULL.md supplemented
// feature: the distillation names the command without fixing its shape).
type StatusData struct {
	Uptime       string `json:"uptime"`
	SocketPath   string `json:"socketPath"`
	DataDir      string `json:"dataDir"`
	ConfigCount  int    `json:"configCount"`
	RunningCount int    `json:"runningCount"`
	ErroredCount int    `json:"erroredCount"`
}

// PingData is the ping command's trivial liveness payload.
type PingData struct {
	Pong bool `json:"pong"`
}
