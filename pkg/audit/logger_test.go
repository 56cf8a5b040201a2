package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("invalid JSONL line %q: %v", sc.Text(), err)
		}
		events = append(events, e)
	}
	return events
}

func TestDefaultLoggerConfig(t *testing.T) {
	cfg := DefaultLoggerConfig()
	if cfg.BufferSize != 100 {
		t.Errorf("BufferSize = %d, want 100", cfg.BufferSize)
	}
	if cfg.FlushInterval != 5*time.Second {
		t.Errorf("FlushInterval = %v, want 5s", cfg.FlushInterval)
	}
	if !strings.Contains(cfg.LogFile, ".scanorch") {
		t.Errorf("LogFile = %s", cfg.LogFile)
	}
}

func TestLogger_WritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.log")
	l, err := NewLogger(&LoggerConfig{LogFile: path})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	l.Log(Event{Type: EventScanStarted, ScanID: "s1", AccountID: "acct", Message: "scan started"})
	l.Log(Event{Type: EventAdapterFailed, Severity: SeverityError, ScanID: "s1", Adapter: "nikto",
		Message: "adapter failed", Error: errors.New("exited with code 2").Error()})

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	events := readEvents(t, path)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Severity != SeverityInfo || events[0].Timestamp.IsZero() {
		t.Errorf("defaults not applied: %+v", events[0])
	}
	if events[1].Adapter != "nikto" || events[1].Error == "" {
		t.Errorf("event = %+v", events[1])
	}
}

func TestLogger_FlushesAtBufferSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewLogger(&LoggerConfig{LogFile: path, BufferSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	l.Log(Event{Type: EventScanRequested, Message: "a"})
	l.Log(Event{Type: EventScanRequested, Message: "b"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("buffer was not flushed")
}

func TestLogger_BackgroundFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewLogger(&LoggerConfig{LogFile: path, FlushInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	l.Start()
	l.Start()
	defer l.Close()

	l.Log(Event{Type: EventRetentionRun, Message: "deleted 3 scans"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("flush loop did not write")
}

func TestLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(&LoggerConfig{LogFile: filepath.Join(t.TempDir(), "audit.log"), Console: &buf})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	l.Log(Event{Type: EventScanFailed, Severity: SeverityError, Message: "scan failed", Error: "invalid target URL"})
	out := buf.String()
	if !strings.Contains(out, "[ERROR] scan_failed: scan failed") || !strings.Contains(out, "Error: invalid target URL") {
		t.Errorf("console output = %q", out)
	}
}

func TestLogger_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewLogger(&LoggerConfig{LogFile: path, BufferSize: 7})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Log(Event{Type: EventScanRequested, Details: map[string]any{"n": i}})
		}()
	}
	wg.Wait()
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	if got := len(readEvents(t, path)); got != 50 {
		t.Errorf("got %d events, want 50", got)
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	var s Sink = &r
	s.Log(Event{Type: EventScanStarted})
	s.Log(Event{Type: EventScanCancelled})

	types := r.Types()
	if len(types) != 2 || types[1] != EventScanCancelled {
		t.Errorf("Types() = %v", types)
	}
	if len(r.Events()) != 2 {
		t.Error("Events() length mismatch")
	}
	OrNop(nil).Log(Event{})
}
