package logs

import (
	"strings"
	"testing"
	"time"
)

func TestCaptureAndGetLogs(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	stdout := strings.NewReader("line one\nline two\nerror: boom\n")
	stderr := strings.NewReader("")
	if err := m.CaptureOutput("inst-1", "cfg-1", stdout, stderr); err != nil {
		t.Fatal(err)
	}

	lines, total, filtered, err := m.GetLogs("inst-1", 10, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || filtered != 3 || len(lines) != 3 {
		t.Fatalf("got total=%d filtered=%d lines=%d, want 3/3/3", total, filtered, len(lines))
	}

	_, _, filtered, err = m.GetLogs("inst-1", 10, "error", false)
	if err != nil {
		t.Fatal(err)
	}
	if filtered != 1 {
		t.Errorf("filtered = %d, want 1", filtered)
	}
}

func TestGetLogsUnknownInstance(t *testing.T) {
	m, _ := NewManager(t.TempDir())
	_, _, _, err := m.GetLogs("nope", 10, "", false)
	if err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetLogsLimitsToN(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager(dir)
	stdout := strings.NewReader("a\nb\nc\nd\ne\n")
	m.CaptureOutput("inst-1", "cfg-1", stdout, strings.NewReader(""))

	lines, _, _, err := m.GetLogs("inst-1", 2, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[0].Text != "d" || lines[1].Text != "e" {
		t.Errorf("got %v, want last 2 lines [d e]", lines)
	}
}

func TestStreamLogsReplaysRingBeforeLiveLines(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager(dir)
	m.CaptureOutput("inst-1", "cfg-1", strings.NewReader("first\n"), strings.NewReader(""))

	stream, cancel, err := m.StreamLogs("inst-1")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	// The backlog line captured before StreamLogs was even called must be
	// the first thing out of the channel.
	select {
	case line := <-stream:
		if line.Text != "first" {
			t.Errorf("replayed line = %q, want %q", line.Text, "first")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for replayed line")
	}

	go m.CaptureOutput("inst-1", "cfg-1", strings.NewReader("second\n"), strings.NewReader(""))

	select {
	case line := <-stream:
		if line.Text != "second" {
			t.Errorf("got %q, want %q", line.Text, "second")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for streamed line")
	}
}

func TestRegexFilter(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager(dir)
	m.CaptureOutput("inst-1", "cfg-1", strings.NewReader("GET /health 200\nPOST /x 500\n"), strings.NewReader(""))

	_, _, filtered, err := m.GetLogs("inst-1", 10, `\d{3}$`, true)
	if err != nil {
		t.Fatal(err)
	}
	if filtered != 2 {
		t.Errorf("filtered = %d, want 2", filtered)
	}

	_, _, filtered, err = m.GetLogs("inst-1", 10, "^POST", true)
	if err != nil {
		t.Fatal(err)
	}
	if filtered != 1 {
		t.Errorf("filtered = %d, want 1", filtered)
	}
}

func TestClearAndRemove(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager(dir)
	m.CaptureOutput("inst-1", "cfg-1", strings.NewReader("x\n"), strings.NewReader(""))

	if err := m.Clear("inst-1"); err != nil {
		t.Fatal(err)
	}
	_, total, _, _ := m.GetLogs("inst-1", 10, "", false)
	if total != 0 {
		t.Errorf("total after clear = %d, want 0", total)
	}

	if err := m.Remove("inst-1"); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := m.GetLogs("inst-1", 10, "", false); err != ErrNotFound {
		t.Errorf("err after remove = %v, want ErrNotFound", err)
	}
}
