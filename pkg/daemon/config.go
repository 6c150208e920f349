package daemon

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config controls where the daemon binds and stores its state. Zero-value
// fields are filled in by ApplyDefaults.
type Config struct {
	// SocketPath is the Unix socket the IPC server listens on. Defaults to
	// <DataDir>/sock.
	SocketPath string
	// DataDir holds logs/, the socket, and the ecosystem file used by save
	// and load when no explicit path is given.
	DataDir string
	// EcosystemPath is the default file `save`/`load` use when a request
	// omits an explicit path. Defaults to <DataDir>/ecosystem.json.
	EcosystemPath string
	// MetricsAddr is the address the /metrics HTTP endpoint binds to.
	// Empty disables it. "127.0.0.1:0" picks an ephemeral port.
	MetricsAddr string
	// Version is reported on the /health endpoint.
	Version string
}

// ApplyDefaults fills unset fields from the PROCD_SOCKET/PROCD_HOME
// environment variables (per spec.md §6) or this package's own defaults,
// renamed from the source spec's BUN_PM_SOCKET/BUN_PM_HOME to match this
// module's command name.
func (c *Config) ApplyDefaults() error {
	if c.DataDir == "" {
		c.DataDir = os.Getenv("PROCD_HOME")
	}
	if c.DataDir == "" {
		dir, err := defaultDataDir()
		if err != nil {
			return fmt.Errorf("determine default data directory: %w", err)
		}
		c.DataDir = dir
	}

	if c.SocketPath == "" {
		c.SocketPath = os.Getenv("PROCD_SOCKET")
	}
	if c.SocketPath == "" {
		c.SocketPath = filepath.Join(c.DataDir, "sock")
	}

	if c.EcosystemPath == "" {
		c.EcosystemPath = filepath.Join(c.DataDir, "ecosystem.json")
	}
	return nil
}

// defaultDataDir returns the per-user runtime directory procd uses when
// PROCD_HOME is unset: $XDG_RUNTIME_DIR/procd if available, else
// <tmpdir>/procd-<uid>.
func defaultDataDir() (string, error) {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "procd"), nil
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("procd-%d", os.Getuid())), nil
}
