// Package daemon composes the config loader, log manager, monitor,
// supervisor, and IPC server into the procd background process, and owns
// its socket path, data directory, and startup/shutdown sequence.
package daemon
