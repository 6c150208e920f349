package ipc

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/nimbusdaemon/procd/pkg/config"
	"github.com/nimbusdaemon/procd/pkg/log"
	"github.com/nimbusdaemon/procd/pkg/logs"
	"github.com/nimbusdaemon/procd/pkg/metrics"
	"github.com/nimbusdaemon/procd/pkg/monitor"
	"github.com/nimbusdaemon/procd/pkg/supervisor"
	"github.com/nimbusdaemon/procd/pkg/types"
)

// idleTimeout bounds how long the server waits for a client's next request
// before closing the connection, per spec.md §5.
const idleTimeout = 60 * time.Second

// Server dispatches framed IPC requests to the supervisor and its managers.
// It holds no process-table state of its own.
type Server struct {
	sup            *supervisor.Supervisor
	logMgr         *logs.Manager
	mon            *monitor.Monitor
	defaultEcoPath string
	startedAt      time.Time
	socketPath     string
	dataDir        string

	listener net.Listener
	wg       sync.WaitGroup
}

// New builds a Server. defaultEcoPath is the ecosystem file save/load falls
// back to when a request omits an explicit path.
func New(sup *supervisor.Supervisor, logMgr *logs.Manager, mon *monitor.Monitor, socketPath, dataDir, defaultEcoPath string) *Server {
	return &Server{
		sup:            sup,
		logMgr:         logMgr,
		mon:            mon,
		defaultEcoPath: defaultEcoPath,
		socketPath:     socketPath,
		dataDir:        dataDir,
		startedAt:      time.Now(),
	}
}

// Serve accepts connections on l until it is closed, handling each on its
// own goroutine. It returns once Accept starts failing (normally because
// Close closed the listener).
func (s *Server) Serve(l net.Listener) error {
	s.listener = l
	for {
		conn, err := l.Accept()
		if err != nil {
			s.wg.Wait()
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting new connections. In-flight connections are left to
// drain on their own (a logs --stream subscriber is released by the client
// closing its end).
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	clog := log.WithComponent("ipc")
	metrics.IPCConnectionsTotal.Inc()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}
		var req Request
		if err := readFrame(conn, &req); err != nil {
			if errors.Is(err, ErrFrameTooLarge) {
				clog.Warn().Msg("oversize frame, closing connection")
			}
			return
		}

		if req.Type == CmdLogs {
			var payload LogsPayload
			if err := json.Unmarshal(req.Payload, &payload); err == nil && payload.Stream {
				s.handleLogsStream(conn, req.ID, payload)
				continue
			}
		}

		timer := metrics.NewTimer()
		resp := s.dispatch(req)
		timer.ObserveDurationVec(metrics.IPCRequestDuration, string(req.Type))

		result := "success"
		if !resp.Success {
			result = "error"
		}
		metrics.IPCRequestsTotal.WithLabelValues(string(req.Type), result).Inc()

		if err := writeFrame(conn, resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req Request) *Response {
	switch req.Type {
	case CmdStart:
		return s.handleStart(req)
	case CmdStop:
		return s.handleStop(req)
	case CmdRestart:
		return s.handleRestart(req)
	case CmdDelete:
		return s.handleDelete(req)
	case CmdScale:
		return s.handleScale(req)
	case CmdList, CmdMonit:
		return ok(req.ID, s.sup.List())
	case CmdLogs:
		return s.handleLogs(req)
	case CmdStatus:
		return s.handleStatus(req)
	case CmdSave:
		return s.handleSave(req)
	case CmdLoad:
		return s.handleLoad(req)
	case CmdPing:
		return ok(req.ID, PingData{Pong: true})
	default:
		return fail(req.ID, "unknown command")
	}
}

func decode[T any](req Request) (T, error) {
	var v T
	if len(req.Payload) == 0 {
		return v, nil
	}
	err := json.Unmarshal(req.Payload, &v)
	return v, err
}

func mapCoreError(err error) string {
	switch {
	case errors.Is(err, supervisor.ErrNotFound):
		return "not found"
	case errors.Is(err, supervisor.ErrAlreadyExists):
		return "already exists"
	default:
		return err.Error()
	}
}

func (s *Server) handleStart(req Request) *Response {
	cfg, err := decode[StartPayload](req)
	if err != nil {
		return fail(req.ID, "invalid payload: "+err.Error())
	}
	if err := s.sup.Start(&cfg); err != nil {
		return fail(req.ID, mapCoreError(err))
	}
	return ok(req.ID, types.ListEntry{ID: cfg.ID, ConfigID: cfg.ID, Name: cfg.Name})
}

func (s *Server) handleStop(req Request) *Response {
	p, err := decode[IdentifierPayload](req)
	if err != nil {
		return fail(req.ID, "invalid payload: "+err.Error())
	}
	if err := s.sup.Stop(p.Identifier); err != nil {
		return fail(req.ID, mapCoreError(err))
	}
	return ok(req.ID, nil)
}

func (s *Server) handleRestart(req Request) *Response {
	p, err := decode[IdentifierPayload](req)
	if err != nil {
		return fail(req.ID, "invalid payload: "+err.Error())
	}
	if err := s.sup.Restart(p.Identifier); err != nil {
		return fail(req.ID, mapCoreError(err))
	}
	return ok(req.ID, nil)
}

func (s *Server) handleDelete(req Request) *Response {
	p, err := decode[DeletePayload](req)
	if err != nil {
		return fail(req.ID, "invalid payload: "+err.Error())
	}
	if err := s.sup.Delete(p.Identifier, p.Force); err != nil {
		return fail(req.ID, mapCoreError(err))
	}
	return ok(req.ID, nil)
}

func (s *Server) handleScale(req Request) *Response {
	p, err := decode[ScalePayload](req)
	if err != nil {
		return fail(req.ID, "invalid payload: "+err.Error())
	}
	if err := s.sup.Scale(p.ConfigID, p.Instances); err != nil {
		return fail(req.ID, mapCoreError(err))
	}
	return ok(req.ID, nil)
}

func (s *Server) handleLogs(req Request) *Response {
	p, err := decode[LogsPayload](req)
	if err != nil {
		return fail(req.ID, "invalid payload: "+err.Error())
	}
	lines, total, filtered, err := s.logMgr.GetLogs(p.Identifier, p.Lines, p.Filter, p.UseRegex)
	if err != nil {
		if errors.Is(err, logs.ErrNotFound) {
			return fail(req.ID, "not found")
		}
		return fail(req.ID, err.Error())
	}
	return ok(req.ID, LogsData{Lines: lines, Total: total, Filtered: filtered})
}

func (s *Server) handleLogsStream(conn net.Conn, id string, p LogsPayload) {
	ch, cancel, err := s.logMgr.StreamLogs(p.Identifier)
	if err != nil {
		metrics.IPCRequestsTotal.WithLabelValues(string(CmdLogs), "error").Inc()
		if errors.Is(err, logs.ErrNotFound) {
			_ = writeFrame(conn, fail(id, "not found"))
			return
		}
		_ = writeFrame(conn, fail(id, err.Error()))
		return
	}
	metrics.IPCRequestsTotal.WithLabelValues(string(CmdLogs), "success").Inc()
	defer cancel()

	for line := range ch {
		if err := conn.SetWriteDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}
		if err := writeFrame(conn, ok(id, line)); err != nil {
			return
		}
		if line.Stream == types.StreamMeta {
			return
		}
	}
}

func (s *Server) handleStatus(req Request) *Response {
	entries := s.sup.List()
	running, errored := 0, 0
	for _, e := range entries {
		switch e.Status {
		case types.StatusRunning:
			running++
		case types.StatusErrored:
			errored++
		}
	}
	return ok(req.ID, StatusData{
		Uptime:       time.Since(s.startedAt).String(),
		SocketPath:   s.socketPath,
		DataDir:      s.dataDir,
		ConfigCount:  s.sup.ConfigCount(),
		RunningCount: running,
		ErroredCount: errored,
	})
}

func (s *Server) handleSave(req Request) *Response {
	p, err := decode[FilePayload](req)
	if err != nil {
		return fail(req.ID, "invalid payload: "+err.Error())
	}
	path := p.Path
	if path == "" {
		path = s.defaultEcoPath
	}
	if err := config.Save(path, s.sup.Configs()); err != nil {
		return fail(req.ID, err.Error())
	}
	return ok(req.ID, nil)
}

func (s *Server) handleLoad(req Request) *Response {
	p, err := decode[FilePayload](req)
	if err != nil {
		return fail(req.ID, "invalid payload: "+err.Error())
	}
	path := p.Path
	if path == "" {
		path = s.defaultEcoPath
	}

	configs, loadErrs := config.Load(path)
	data := LoadData{}
	for _, e := range loadErrs {
		data.Errors = append(data.Errors, e.Error())
	}
	for _, cfg := range configs {
		if err := s.sup.Start(cfg); err != nil {
			data.Errors = append(data.Errors, cfg.ID+": "+mapCoreError(err))
			continue
		}
		data.Started = append(data.Started, cfg.ID)
	}
	return ok(req.ID, data)
}
