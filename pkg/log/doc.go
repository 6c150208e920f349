/*
Package log provides structured logging for procd using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, a configurable level, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level.

# Usage

Initializing the logger:

	import "github.com/nimbusdaemon/procd/pkg/log"

	// JSON output (procd --log-json)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (procd's default)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("daemon started")
	log.Warn("restart budget exhausted")
	log.Error("failed to bind control socket")

Context loggers:

	supLog := log.WithComponent("supervisor")
	supLog.Info().Str("config_id", cfg.ID).Msg("starting instance")

	instLog := log.WithInstanceID(inst.ID)
	instLog.Error().Err(err).Msg("instance exited non-zero")

# Integration Points

This package is used by:

  - pkg/supervisor: process lifecycle and restart decisions
  - pkg/monitor: sampling failures
  - pkg/logs: failed log file writes
  - pkg/ipc: oversize frames that close a connection
  - pkg/daemon: startup, shutdown, and signal handling
*/
package log
