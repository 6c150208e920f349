package daemon

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nimbusdaemon/procd/pkg/ipc"
)

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	dir := t.TempDir()
	d, err := New(Config{DataDir: dir})
	require.NoError(t, err)
	return d
}

func TestRunBindsSocketAndRespondsToPing(t *testing.T) {
	d := newTestDaemon(t)
	require.False(t, d.IsActive())

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run() }()

	require.Eventually(t, d.IsActive, 2*time.Second, 10*time.Millisecond)

	client, err := ipc.Dial(d.cfg.SocketPath, time.Second)
	require.NoError(t, err)
	require.NoError(t, client.Ping())
	require.NoError(t, client.Close())

	require.NoError(t, d.Shutdown())
	require.NoError(t, <-errCh)
	require.False(t, d.IsActive())
}

func TestRunTwiceOnSameSocketFailsCleanly(t *testing.T) {
	dir := t.TempDir()
	d1, err := New(Config{DataDir: dir})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- d1.Run() }()
	require.Eventually(t, d1.IsActive, 2*time.Second, 10*time.Millisecond)

	d2, err := New(Config{DataDir: dir})
	require.NoError(t, err)
	require.Error(t, d2.Run())

	require.NoError(t, d1.Shutdown())
	require.NoError(t, <-errCh)
}

func TestApplyDefaultsDerivesPathsFromDataDir(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{DataDir: dir}
	require.NoError(t, cfg.ApplyDefaults())
	require.Equal(t, filepath.Join(dir, "sock"), cfg.SocketPath)
	require.Equal(t, filepath.Join(dir, "ecosystem.json"), cfg.EcosystemPath)
}
