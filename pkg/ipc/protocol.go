package ipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single framed message (spec.md §4.5's "oversize
// frames close the connection"). 4 MiB comfortably covers a `logs` response
// carrying thousands of lines while still catching a client gone feral.
const MaxFrameSize = 4 << 20

// ErrFrameTooLarge is returned by readFrame when the declared length exceeds
// MaxFrameSize. The caller must close the connection: the stream's framing
// is no longer trustworthy once a length this large has been read.
var ErrFrameTooLarge = errors.New("ipc: frame exceeds maximum size")

// Command identifies an IPC request's operation.
type Command string

const (
	CmdStart   Command = "start"
	CmdStop    Command = "stop"
	CmdRestart Command = "restart"
	CmdDelete  Command = "delete"
	CmdScale   Command = "scale"
	CmdList    Command = "list"
	CmdLogs    Command = "logs"
	CmdMonit   Command = "monit"
	CmdStatus  Command = "status"
	CmdSave    Command = "save"
	CmdLoad    Command = "load"
	CmdPing    Command = "ping"
)

// Request is the envelope a client frames and sends. Payload is decoded
// per-command by the handler, keeping this type command-agnostic.
type Request struct {
	ID      string          `json:"id"`
	Type    Command         `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the envelope the server frames back. ID always echoes the
// request it answers, per spec.md's "IPC echo" acceptance criterion.
// A logs --stream connection sends one Response per pushed line, each
// carrying the same ID as the originating request.
type Response struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// DecodeInto unmarshals a successful response's Data into v. Callers (the
// CLI, tests) use this instead of reaching into the raw json.RawMessage
// directly.
func (r *Response) DecodeInto(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

func ok(id string, data any) *Response {
	raw, err := json.Marshal(data)
	if err != nil {
		return fail(id, fmt.Sprintf("marshal response: %v", err))
	}
	return &Response{ID: id, Success: true, Data: raw}
}

func fail(id string, errMsg string) *Response {
	return &Response{ID: id, Success: false, Error: errMsg}
}

// writeFrame writes v as a length-prefixed JSON frame: a 4-byte big-endian
// length followed by the encoded payload.
func writeFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ipc: encode frame: %w", err)
	}
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// readFrame reads one length-prefixed frame from r and unmarshals it into v.
func readFrame(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return ErrFrameTooLarge
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
