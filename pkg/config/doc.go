/*
Package config loads and saves ecosystem files: the JSON documents that
describe the set of processes procd should manage.

Load accepts both procd's native camelCase shape and a widely-used
compatible snake_case shape (exec_mode, max_memory_restart, env_production,
...), normalizing both into types.ProcessConfig. Validation problems are
collected rather than returned as a Go error, so a caller can report every
problem found across every app in one pass:

	configs, errs := config.Load("ecosystem.json")
	for _, e := range errs {
		fmt.Println(e)
	}

Save writes configs back out in the native shape; Sample writes a minimal
starter file for `procctl init`.
*/
package config
