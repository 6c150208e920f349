/*
Package monitor is the Monitor Manager: it samples CPU and memory usage for
every running instance on a fixed tick (default 1s) using gopsutil, keeps a
bounded history ring per instance, and gives the supervisor a one-pass way
to check memory limits across the whole process table.

	mon := monitor.New()
	mon.Start()
	mon.StartMonitoring(inst.ID, cfg.ID, pid, time.Now())

	sample, ok := mon.GetMetrics(inst.ID)
	history := mon.GetMetricsHistory(inst.ID, 60)

	violators := mon.CheckAllMemoryLimits(limitsByInstance)
	for _, id := range violators {
		// supervisor restarts id
	}

CPU percent follows gopsutil/psutil convention: normalized to a single
core, so a multi-threaded process may read above 100%.
*/
package monitor
