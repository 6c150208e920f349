package daemon

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/nimbusdaemon/procd/pkg/ipc"
	"github.com/nimbusdaemon/procd/pkg/log"
	"github.com/nimbusdaemon/procd/pkg/logs"
	"github.com/nimbusdaemon/procd/pkg/metrics"
	"github.com/nimbusdaemon/procd/pkg/monitor"
	"github.com/nimbusdaemon/procd/pkg/supervisor"
)

// staleSocketProbeTimeout bounds how long Run waits when checking whether
// an existing socket path is still owned by a live daemon.
const staleSocketProbeTimeout = 200 * time.Millisecond

// Daemon composes the config loader, log manager, monitor, supervisor, and
// IPC server into the running procd process, and owns the listener and
// signal-driven graceful shutdown.
type Daemon struct {
	cfg Config

	logMgr    *logs.Manager
	mon       *monitor.Monitor
	sup       *supervisor.Supervisor
	srv       *ipc.Server
	collector *metrics.Collector

	metricsSrv *http.Server

	mu       sync.Mutex
	listener net.Listener
	active   bool
}

// New wires up a Daemon from cfg. ApplyDefaults is called on cfg if its
// fields are unset. The returned Daemon has not bound its socket yet; call
// Run to do so.
func New(cfg Config) (*Daemon, error) {
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}

	logDir := filepath.Join(cfg.DataDir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	logMgr, err := logs.NewManager(logDir)
	if err != nil {
		return nil, fmt.Errorf("create log manager: %w", err)
	}
	mon := monitor.New()
	sup := supervisor.New(logMgr, mon)
	srv := ipc.New(sup, logMgr, mon, cfg.SocketPath, cfg.DataDir, cfg.EcosystemPath)
	collector := metrics.NewCollector(sup)

	return &Daemon{cfg: cfg, logMgr: logMgr, mon: mon, sup: sup, srv: srv, collector: collector}, nil
}

// IsActive reports whether the daemon's IPC socket is currently bound.
func (d *Daemon) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Run binds the socket, starts every background loop, installs SIGINT/
// SIGTERM handlers, and blocks until a graceful shutdown completes (either
// signal-driven or because Shutdown was called from another goroutine).
// Calling Run twice on the same Daemon, or against a socket path already
// owned by a live daemon, fails cleanly without disturbing the other
// instance.
func (d *Daemon) Run() error {
	d.mu.Lock()
	if d.active {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running on %s", d.cfg.SocketPath)
	}
	d.mu.Unlock()

	if err := d.removeStaleSocket(); err != nil {
		return err
	}

	listener, err := net.Listen("unix", d.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.SocketPath, err)
	}
	if err := os.Chmod(d.cfg.SocketPath, 0700); err != nil {
		_ = listener.Close()
		return fmt.Errorf("set socket permissions on %s: %w", d.cfg.SocketPath, err)
	}

	d.mu.Lock()
	d.listener = listener
	d.active = true
	d.mu.Unlock()

	clog := log.WithComponent("daemon")
	clog.Info().Str("socket", d.cfg.SocketPath).Str("data_dir", d.cfg.DataDir).Msg("daemon starting")
	if d.cfg.Version != "" {
		metrics.SetVersion(d.cfg.Version)
	}

	d.mon.Start()
	d.sup.Run()
	d.collector.Start()
	metrics.SetCriticalComponents("supervisor", "ipc")
	metrics.RegisterComponent("supervisor", true, "running")
	metrics.RegisterComponent("ipc", true, "listening")

	if d.cfg.MetricsAddr != "" {
		if err := d.startMetrics(); err != nil {
			clog.Warn().Err(err).Msg("metrics endpoint failed to start")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- d.srv.Serve(listener) }()

	select {
	case sig := <-sigCh:
		clog.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serveErrCh:
		if err != nil {
			clog.Error().Err(err).Msg("ipc server stopped unexpectedly")
		}
	}

	return d.shutdown()
}

// Shutdown requests a graceful stop from another goroutine; Run returns
// once it completes.
func (d *Daemon) Shutdown() error {
	return d.shutdown()
}

func (d *Daemon) shutdown() error {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return nil
	}
	d.active = false
	d.mu.Unlock()

	metrics.RegisterComponent("ipc", false, "shutting down")
	metrics.RegisterComponent("supervisor", false, "shutting down")
	_ = d.srv.Close()
	d.collector.Stop()
	d.mon.Stop()
	d.sup.Close()

	if d.metricsSrv != nil {
		_ = d.metricsSrv.Close()
	}

	if err := os.Remove(d.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove socket %s: %w", d.cfg.SocketPath, err)
	}
	log.WithComponent("daemon").Info().Msg("shutdown complete")
	return nil
}

// removeStaleSocket probes an existing socket path by dialing it; a
// successful dial means a live daemon owns it and Run must fail instead of
// stealing the socket out from under it. Only a failed dial against an
// existing path is treated as stale and unlinked.
func (d *Daemon) removeStaleSocket() error {
	conn, err := net.DialTimeout("unix", d.cfg.SocketPath, staleSocketProbeTimeout)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("daemon already running on %s", d.cfg.SocketPath)
	}

	info, statErr := os.Lstat(d.cfg.SocketPath)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return nil
		}
		return fmt.Errorf("stat socket path %s: %w", d.cfg.SocketPath, statErr)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("socket path exists and is not a unix socket: %s", d.cfg.SocketPath)
	}
	if err := os.Remove(d.cfg.SocketPath); err != nil {
		return fmt.Errorf("remove stale socket %s: %w", d.cfg.SocketPath, err)
	}
	return nil
}

func (d *Daemon) startMetrics() error {
	l, err := net.Listen("tcp", d.cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("listen on metrics addr %s: %w", d.cfg.MetricsAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	d.metricsSrv = &http.Server{Handler: mux}

	log.WithComponent("daemon").Info().Str("addr", l.Addr().String()).Msg("metrics endpoint listening")
	go func() {
		if err := d.metricsSrv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithComponent("daemon").Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	return nil
}
