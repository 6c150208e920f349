package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/nimbusdaemon/procd/pkg/types"
)

// ecosystemVersion is the on-disk schema version written by Save.
const ecosystemVersion = "1.0.0"

// app is the native (camelCase) on-disk shape written by Save and read back
// by Load. Saving a config loaded from the compatible snake_case shape and
// reloading it must yield a semantically equal config.
type app struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Script         string            `json:"script"`
	Args           []string          `json:"args,omitempty"`
	Cwd            string            `json:"cwd,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	Instances      int               `json:"instances"`
	AutoRestart    bool              `json:"autorestart"`
	MaxRestarts    int               `json:"maxRestarts"`
	MemoryLimit    int64             `json:"memoryLimit,omitempty"`
	RestartDelayMs int               `json:"restartDelayMs"`
}

// Save writes configs to path as a native-shape ecosystem file.
func Save(path string, configs []*types.ProcessConfig) error {
	apps := make([]app, 0, len(configs))
	for _, c := range configs {
		apps = append(apps, app{
			ID:             c.ID,
			Name:           c.Name,
			Script:         c.Script,
			Args:           c.Args,
			Cwd:            c.Cwd,
			Env:            c.Env,
			Instances:      c.Instances,
			AutoRestart:    c.AutoRestart,
			MaxRestarts:    c.MaxRestarts,
			MemoryLimit:    c.MemoryLimit,
			RestartDelayMs: c.RestartDelayMs,
		})
	}

	data, err := json.MarshalIndent(struct {
		Version string    `json:"version"`
		Created time.Time `json:"created"`
		Apps    []app     `json:"apps"`
	}{Version: ecosystemVersion, Created: time.Now(), Apps: apps}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Sample writes a minimal example ecosystem file, for `procctl init`.
func Sample(path string) error {
	sample := struct {
		Version string    `json:"version"`
		Created time.Time `json:"created"`
		Apps    []app     `json:"apps"`
	}{
		Version: ecosystemVersion,
		Created: time.Now(),
		Apps: []app{
			{
				Name:           "web",
				Script:         "./server.js",
				Instances:      1,
				AutoRestart:    true,
				MaxRestarts:    10,
				RestartDelayMs: 1000,
				Env:            map[string]string{"NODE_ENV": "production"},
			},
		},
	}
	data, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
