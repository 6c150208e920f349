package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusdaemon/procd/pkg/types"
)

// Client is a small synchronous client for one IPC connection, used by
// cmd/procctl and by integration tests. It plays the role the teacher's
// generated gRPC stubs play for its control API, adapted to this package's
// raw framed-JSON protocol.
type Client struct {
	conn net.Conn
	mu   sync.Mutex
}

// Dial connects to the daemon's Unix socket at socketPath.
func Dial(socketPath string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends one request and waits for its matching response. Requests on
// a Client are serialized: only use a single Client from one goroutine at a
// time, or construct one Client per concurrent caller.
func (c *Client) Call(cmd Command, payload any) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("ipc: encode payload: %w", err)
		}
		raw = encoded
	}

	req := Request{ID: uuid.NewString(), Type: cmd, Payload: raw}
	if err := writeFrame(c.conn, req); err != nil {
		return nil, err
	}

	var resp Response
	if err := readFrame(c.conn, &resp); err != nil {
		return nil, err
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("ipc: response id %q does not match request id %q", resp.ID, req.ID)
	}
	return &resp, nil
}

// Ping checks whether the daemon is reachable and responsive.
func (c *Client) Ping() error {
	resp, err := c.Call(CmdPing, nil)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("ipc: %s", resp.Error)
	}
	return nil
}

// StreamLogs issues a streaming logs request and returns a channel of lines
// pushed by the server until the instance is deleted (a final
// types.StreamMeta line) or stop is called to close the connection. The
// Client must not be reused for other calls once streaming has begun — open
// a dedicated Client for `logs --stream`.
func (c *Client) StreamLogs(identifier string, lines int, filter string, useRegex bool) (<-chan types.LogLine, func(), error) {
	payload := LogsPayload{Identifier: identifier, Lines: lines, Filter: filter, UseRegex: useRegex, Stream: true}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	req := Request{ID: uuid.NewString(), Type: CmdLogs, Payload: raw}
	if err := writeFrame(c.conn, req); err != nil {
		return nil, nil, err
	}

	out := make(chan types.LogLine, 64)
	stop := func() { _ = c.conn.Close() }

	go func() {
		defer close(out)
		for {
			var resp Response
			if err := readFrame(c.conn, &resp); err != nil {
				return
			}
			if !resp.Success {
				return
			}
			var line types.LogLine
			if err := json.Unmarshal(resp.Data, &line); err != nil {
				return
			}
			out <- line
			if line.Stream == types.StreamMeta {
				return
			}
		}
	}()

	return out, stop, nil
}
