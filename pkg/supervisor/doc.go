/*
Package supervisor is the Process Supervisor: the only part of procd that
spawns, signals, and reaps child processes. It owns the process table (one
group per loaded config, one instance per cluster member), runs each
instance's exit-driven restart policy, and answers the six operations the
IPC layer exposes:

	sup := supervisor.New(logMgr, mon)
	sup.Run() // starts memory-limit enforcement

	sup.Start(cfg)
	sup.Scale(cfg.ID, 4)
	sup.Restart(cfg.ID)
	sup.Stop(cfg.ID)
	sup.Delete(cfg.ID, false)
	entries := sup.List()

Every config's instances are serialized behind that config's own mutex
(a "group"), so scale/restart/stop on one config can never interleave into
an inconsistent instance table, while unrelated configs proceed
independently — the same per-config isolation the reference supervisors in
the corpus use. Supervisor implements metrics.Source so pkg/metrics can
collect gauges from it without either package importing the other.
*/
package supervisor
