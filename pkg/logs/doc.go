/*
Package logs is the Log Manager: it captures a child instance's stdout and
stderr, keeps a fixed-capacity in-memory tail per instance, persists full
output to append-only files, and serves both point-in-time reads and live
streams to multiple concurrent subscribers.

The streaming design uses buffered per-subscriber channels and a
non-blocking publish that drops the new line on a full channel rather than
blocking the writer, so a slow or wedged reader cannot stall the process
whose output it's consuming.

	logMgr, _ := logs.NewManager("/var/lib/procd/logs")
	go logMgr.CaptureOutput(inst.ID, cfg.ID, stdoutPipe, stderrPipe)

	lines, total, filtered, _ := logMgr.GetLogs(inst.ID, 100, "error", false)

	stream, cancel, _ := logMgr.StreamLogs(inst.ID)
	defer cancel()
	for line := range stream {
		...
	}
*/
package logs
