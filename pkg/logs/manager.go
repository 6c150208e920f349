// Package logs captures, buffers, persists, and streams child process
// output for each managed instance.
package logs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nimbusdaemon/procd/pkg/log"
	"github.com/nimbusdaemon/procd/pkg/metrics"
	"github.com/nimbusdaemon/procd/pkg/ring"
	"github.com/nimbusdaemon/procd/pkg/types"
)

// ErrNotFound is returned for operations against an unknown instance.
var ErrNotFound = errors.New("instance not found")

const (
	defaultRingCapacity = 1000
	rotateThreshold     = 10 * 1024 * 1024 // 10 MiB
	subscriberBuffer    = 256
)

// Manager owns the ring buffer, log files, and streaming subscribers for
// every instance whose output is being captured.
type Manager struct {
	dir  string
	cap  int
	mu   sync.RWMutex
	logs map[string]*instanceLog
}

type instanceLog struct {
	mu          sync.Mutex
	configID    string
	ring        *ring.Ring[types.LogLine]
	outPath     string
	errPath     string
	outFile     *os.File
	errFile     *os.File
	subscribers map[int]chan types.LogLine
	nextSub     int
}

// NewManager creates a Manager that writes log files under dir.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &Manager{dir: dir, cap: defaultRingCapacity, logs: make(map[string]*instanceLog)}, nil
}

// CaptureOutput attaches line-oriented readers for an instance's stdout and
// stderr. Each decoded line is appended to the in-memory ring, the on-disk
// log file, and pushed to any active streaming subscribers. Returns once
// both readers reach EOF (the caller runs this in its own goroutine).
func (m *Manager) CaptureOutput(instanceID, configID string, stdout, stderr io.Reader) error {
	il, err := m.open(instanceID, configID)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.scan(il, types.StreamStdout, stdout)
	}()
	go func() {
		defer wg.Done()
		m.scan(il, types.StreamStderr, stderr)
	}()
	wg.Wait()
	return nil
}

func (m *Manager) open(instanceID, configID string) (*instanceLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if il, ok := m.logs[instanceID]; ok {
		return il, nil
	}

	outPath := filepath.Join(m.dir, instanceID+".out.log")
	errPath := filepath.Join(m.dir, instanceID+".err.log")
	outFile, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open stdout log: %w", err)
	}
	errFile, err := os.OpenFile(errPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		outFile.Close()
		return nil, fmt.Errorf("open stderr log: %w", err)
	}

	il := &instanceLog{
		configID:    configID,
		ring:        ring.New[types.LogLine](m.cap),
		outPath:     outPath,
		errPath:     errPath,
		outFile:     outFile,
		errFile:     errFile,
		subscribers: make(map[int]chan types.LogLine),
	}
	m.logs[instanceID] = il
	return il, nil
}

func (m *Manager) scan(il *instanceLog, stream types.Stream, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := types.LogLine{Time: time.Now(), Stream: stream, Text: scanner.Text()}
		il.append(stream, line)
		metrics.LogLinesWrittenTotal.WithLabelValues(il.configID, string(stream)).Inc()
	}
}

func (il *instanceLog) append(stream types.Stream, line types.LogLine) {
	il.mu.Lock()
	il.ring.Push(line)
	f := il.outFile
	if stream == types.StreamStderr {
		f = il.errFile
	}
	if f != nil {
		if _, err := fmt.Fprintf(f, "%s\n", line.Text); err != nil {
			log.WithComponent("logs").Warn().Err(err).Str("config_id", il.configID).Msg("log write failed")
		}
		if info, err := f.Stat(); err == nil && info.Size() > rotateThreshold {
			il.rotateLocked(f)
			metrics.LogRotationsTotal.WithLabelValues(il.configID).Inc()
		}
	}
	subs := make([]chan types.LogLine, 0, len(il.subscribers))
	for _, ch := range il.subscribers {
		subs = append(subs, ch)
	}
	il.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- line:
		default:
			metrics.LogLinesDroppedTotal.WithLabelValues(il.configID).Inc()
		}
	}
}

// GetLogs returns the last n lines for an instance, optionally filtered by
// substring or regex match.
func (m *Manager) GetLogs(instanceID string, n int, filter string, useRegex bool) (lines []types.LogLine, total, filtered int, err error) {
	m.mu.RLock()
	il, ok := m.logs[instanceID]
	m.mu.RUnlock()
	if !ok {
		return nil, 0, 0, ErrNotFound
	}

	all := il.ring.Snapshot()
	total = len(all)

	var matched []types.LogLine
	if filter == "" {
		matched = all
	} else if useRegex {
		re, reErr := regexp.Compile(filter)
		if reErr != nil {
			return nil, total, 0, fmt.Errorf("invalid filter regex: %w", reErr)
		}
		for _, l := range all {
			if re.MatchString(l.Text) {
				matched = append(matched, l)
			}
		}
	} else {
		for _, l := range all {
			if strings.Contains(l.Text, filter) {
				matched = append(matched, l)
			}
		}
	}
	filtered = len(matched)

	if n > 0 && n < len(matched) {
		matched = matched[len(matched)-n:]
	}
	return matched, total, filtered, nil
}

// StreamLogs returns a channel that first replays the current ring contents
// and then yields newly captured lines until cancel is called. Multiple
// concurrent streamers are supported per instance. The replay and the
// subscription are registered under the same lock append() notifies
// subscribers under, so no line is ever replayed and delivered live, or
// dropped between the two.
func (m *Manager) StreamLogs(instanceID string) (<-chan types.LogLine, func(), error) {
	m.mu.RLock()
	il, ok := m.logs[instanceID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, ErrNotFound
	}

	il.mu.Lock()
	backlog := il.ring.Snapshot()
	ch := make(chan types.LogLine, len(backlog)+subscriberBuffer)
	for _, l := range backlog {
		ch <- l
	}
	id := il.nextSub
	il.nextSub++
	il.subscribers[id] = ch
	il.mu.Unlock()

	// cancel only closes ch if Remove hasn't already done so (and closed
	// it out from under this subscriber): both paths delete the same map
	// entry first, so presence in the map is what tells them apart.
	cancel := func() {
		il.mu.Lock()
		_, stillSubscribed := il.subscribers[id]
		delete(il.subscribers, id)
		il.mu.Unlock()
		if stillSubscribed {
			close(ch)
		}
	}
	return ch, cancel, nil
}

// Rotate forces log rotation for an instance regardless of current size.
func (m *Manager) Rotate(instanceID string) error {
	m.mu.RLock()
	il, ok := m.logs[instanceID]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	il.mu.Lock()
	defer il.mu.Unlock()
	il.rotateLocked(il.outFile)
	il.rotateLocked(il.errFile)
	metrics.LogRotationsTotal.WithLabelValues(il.configID).Inc()
	return nil
}

// rotateLocked renames the current file to a ".1" backup (overwriting any
// previous backup) and reopens a fresh file in its place. Caller holds il.mu.
func (il *instanceLog) rotateLocked(f *os.File) {
	if f == nil {
		return
	}
	path := f.Name()
	f.Close()

	backup := path + ".1"
	os.Remove(backup)
	os.Rename(path, backup)

	newFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	if path == il.outPath {
		il.outFile = newFile
	} else {
		il.errFile = newFile
	}
}

// Clear truncates both the ring and the on-disk log files for an instance.
func (m *Manager) Clear(instanceID string) error {
	m.mu.RLock()
	il, ok := m.logs[instanceID]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	il.mu.Lock()
	defer il.mu.Unlock()
	il.ring = ring.New[types.LogLine](il.ring.Cap())
	if il.outFile != nil {
		il.outFile.Truncate(0)
		il.outFile.Seek(0, io.SeekStart)
	}
	if il.errFile != nil {
		il.errFile.Truncate(0)
		il.errFile.Seek(0, io.SeekStart)
	}
	return nil
}

// Remove closes files and disconnects subscribers for an instance, typically
// called when the instance itself is deleted. Active streamers first receive
// a StreamMeta sentinel line so they can distinguish deletion from a quiet
// instance before their channel closes.
func (m *Manager) Remove(instanceID string) error {
	m.mu.Lock()
	il, ok := m.logs[instanceID]
	delete(m.logs, instanceID)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	il.mu.Lock()
	defer il.mu.Unlock()
	sentinel := types.LogLine{Time: time.Now(), Stream: types.StreamMeta, Text: "<instance deleted>"}
	for id, ch := range il.subscribers {
		delete(il.subscribers, id)
		select {
		case ch <- sentinel:
		default:
		}
		close(ch)
	}
	if il.outFile != nil {
		il.outFile.Close()
	}
	if il.errFile != nil {
		il.errFile.Close()
	}
	return nil
}

// Rename relabels an in-flight instance's log state from oldID to newID,
// used when a cluster's instance count crosses the single/multi boundary
// and ids switch between "<id>" and "<id>_0" without the process restarting.
func (m *Manager) Rename(oldID, newID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	il, ok := m.logs[oldID]
	if !ok {
		return ErrNotFound
	}
	delete(m.logs, oldID)
	m.logs[newID] = il
	return nil
}
