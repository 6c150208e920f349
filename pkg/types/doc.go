/*
Package types defines the core data structures shared across procd.

This package contains the domain model for a managed process: its config,
its runtime instance record, the shape of a captured log line, and a
resource sample. These types are used by pkg/config, pkg/supervisor,
pkg/logs, pkg/monitor, and pkg/ipc for state management and wire encoding.

# Core Types

ProcessConfig is the user-provided, immutable-once-accepted description of a
process to run (script, args, cwd, env, instance count, restart policy).

ProcessInstance is the runtime record for one live or previously-live
instance: its id, pid, status, restart count, and last exit info.

LogLine and Sample are the unit records produced by the Log Manager and
Monitor Manager respectively.

ListEntry is the flattened view returned by the supervisor's list()
operation, joining config, instance, and latest sample for display.
*/
package types
