// Package config loads, validates, and saves process ecosystem files.
//
// No library in the reference corpus parses this dual-shape
// (native camelCase vs. compatible snake_case) JSON format with collected
// (not thrown) validation errors, so this package is built directly on
// encoding/json rather than a third-party config library.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/nimbusdaemon/procd/pkg/types"
)

// Error is a single collected validation problem, naming the offending
// field and app so the CLI can report every problem in one pass.
type Error struct {
	App     string
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.App == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.App, e.Field, e.Message)
}

// ecosystemFile is the top-level shape of an ecosystem JSON file.
type ecosystemFile struct {
	Apps []json.RawMessage `json:"apps"`
}

// Load reads and parses an ecosystem file at path, returning a config for
// every app entry that is a JSON object (including apps that failed
// validation) alongside any validation errors. A missing file or invalid JSON
// produces a single error and an empty config list rather than a Go error,
// so callers can always report problems the same way.
func Load(path string) ([]*types.ProcessConfig, []*Error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, []*Error{{Field: "file", Message: "Configuration file not found"}}
		}
		return nil, []*Error{{Field: "file", Message: err.Error()}}
	}

	var ef ecosystemFile
	if err := json.Unmarshal(data, &ef); err != nil {
		return nil, []*Error{{Field: "file", Message: "Invalid JSON"}}
	}

	baseDir := filepath.Dir(path)
	nodeEnv := os.Getenv("NODE_ENV")

	var configs []*types.ProcessConfig
	var errs []*Error
	for i, raw := range ef.Apps {
		cfg, appErrs := parseApp(raw, baseDir, nodeEnv)
		label := fmt.Sprintf("apps[%d]", i)
		if cfg != nil && cfg.Name != "" {
			label = cfg.Name
		}
		for _, e := range appErrs {
			e.App = label
			errs = append(errs, e)
		}
		if cfg != nil {
			configs = append(configs, cfg)
		}
	}

	return configs, errs
}

// parseApp normalizes one "apps[]" entry, accepting both the native
// camelCase shape and the compatible snake_case option names.
func parseApp(raw json.RawMessage, baseDir, nodeEnv string) (*types.ProcessConfig, []*Error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, []*Error{{Field: "app", Message: "Invalid JSON"}}
	}

	var errs []*Error
	cfg := &types.ProcessConfig{
		AutoRestart:    true,
		MaxRestarts:    10,
		RestartDelayMs: 1000,
		Instances:      1,
	}

	cfg.Name, _ = firstString(m, "name")
	cfg.ID, _ = firstString(m, "id")
	if cfg.ID == "" {
		if cfg.Name != "" {
			cfg.ID = slug(cfg.Name)
		} else {
			cfg.ID = uuid.NewString()
		}
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}

	script, ok := firstString(m, "script")
	if !ok || script == "" {
		errs = append(errs, &Error{Field: "script", Message: "script is required"})
	} else {
		if !filepath.IsAbs(script) {
			script = filepath.Join(baseDir, script)
		}
		cfg.Script = script
		if _, err := os.Stat(script); err != nil {
			errs = append(errs, &Error{Field: "script", Message: "script file does not exist: " + script})
		}
	}

	if args, ok := m["args"]; ok {
		cfg.Args = toStringSlice(args)
	}

	cwd, ok := firstString(m, "cwd")
	if !ok || cwd == "" {
		cwd = baseDir
	} else if !filepath.IsAbs(cwd) {
		cwd = filepath.Join(baseDir, cwd)
	}
	cfg.Cwd = cwd

	env, envErrs := mergeEnv(m, nodeEnv)
	errs = append(errs, envErrs...)
	cfg.Env = env

	if v, ok := m["instances"]; ok {
		n, err := parseInstances(v)
		if err != nil {
			errs = append(errs, &Error{Field: "instances", Message: err.Error()})
		} else {
			cfg.Instances = n
		}
	}
	if execMode, ok := firstString(m, "exec_mode", "execMode"); ok && execMode == "cluster" {
		if _, explicit := m["instances"]; !explicit {
			cfg.Instances = runtime.NumCPU()
		}
	}
	if cfg.Instances <= 0 {
		errs = append(errs, &Error{Field: "instances", Message: "instances must be a positive integer or \"max\""})
		cfg.Instances = 1
	}

	if v, ok := firstAny(m, "autorestart"); ok {
		b, isBool := v.(bool)
		if !isBool {
			errs = append(errs, &Error{Field: "autorestart", Message: "must be a boolean"})
		} else {
			cfg.AutoRestart = b
		}
	}

	if v, ok := firstAny(m, "max_restarts", "maxRestarts"); ok {
		n, err := toInt(v)
		if err != nil {
			errs = append(errs, &Error{Field: "maxRestarts", Message: "must be a number"})
		} else {
			cfg.MaxRestarts = n
		}
	}

	if v, ok := firstAny(m, "restart_delay", "restartDelayMs"); ok {
		n, err := toInt(v)
		if err != nil {
			errs = append(errs, &Error{Field: "restartDelayMs", Message: "must be a number"})
		} else {
			cfg.RestartDelayMs = n
		}
	}

	if v, ok := firstAny(m, "max_memory_restart", "memoryLimit"); ok {
		bytes, err := parseMemory(v)
		if err != nil {
			errs = append(errs, &Error{Field: "memoryLimit", Message: err.Error()})
		} else {
			cfg.MemoryLimit = bytes
		}
	}

	return cfg, errs
}

func firstString(m map[string]any, keys ...string) (string, bool) {
	v, ok := firstAny(m, keys...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func firstAny(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func toStringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("not a number")
	}
}

func parseInstances(v any) (int, error) {
	if s, ok := v.(string); ok {
		if strings.EqualFold(s, "max") {
			return runtime.NumCPU(), nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("must be a positive integer or \"max\"")
		}
		return n, nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("must be a positive integer or \"max\"")
	}
	return n, nil
}

// parseMemory parses byte counts with a K/M/G suffix (case-insensitive,
// e.g. "500M", "1G") or a bare number of bytes.
func parseMemory(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case string:
		s := strings.TrimSpace(strings.ToUpper(n))
		if s == "" {
			return 0, nil
		}
		mult := int64(1)
		switch {
		case strings.HasSuffix(s, "G"):
			mult = 1 << 30
			s = strings.TrimSuffix(s, "G")
		case strings.HasSuffix(s, "M"):
			mult = 1 << 20
			s = strings.TrimSuffix(s, "M")
		case strings.HasSuffix(s, "K"):
			mult = 1 << 10
			s = strings.TrimSuffix(s, "K")
		}
		val, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid memory value %q", n)
		}
		return int64(val * float64(mult)), nil
	default:
		return 0, fmt.Errorf("invalid memory value")
	}
}

// mergeEnv merges "env" with an NODE_ENV-selected "env_<suffix>" overlay,
// e.g. env_production wins when NODE_ENV=production.
func mergeEnv(m map[string]any, nodeEnv string) (map[string]string, []*Error) {
	env := make(map[string]string)
	var errs []*Error

	if base, ok := m["env"]; ok {
		em, ok := base.(map[string]any)
		if !ok {
			errs = append(errs, &Error{Field: "env", Message: "env must be an object"})
		} else {
			for k, v := range em {
				if s, ok := v.(string); ok {
					env[k] = s
				} else {
					env[k] = fmt.Sprintf("%v", v)
				}
			}
		}
	}

	if nodeEnv == "" {
		return env, errs
	}
	overlayKey := "env_" + strings.ToLower(nodeEnv)
	if overlay, ok := m[overlayKey]; ok {
		if em, ok := overlay.(map[string]any); ok {
			for k, v := range em {
				if s, ok := v.(string); ok {
					env[k] = s
				} else {
					env[k] = fmt.Sprintf("%v", v)
				}
			}
		}
	}

	return env, errs
}

func slug(name string) string {
	s := strings.ToLower(name)
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, s)
	return strings.Trim(s, "-")
}
