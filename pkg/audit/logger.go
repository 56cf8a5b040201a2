// Package audit writes a JSONL trail of scan lifecycle events: who asked for
// which scan, what was rejected, and how each scan and adapter ended.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Scan lifecycle
	EventScanRequested EventType = "scan_requested"
	EventScanRejected  EventType = "scan_rejected"
	EventScanStarted   EventType = "scan_started"
	EventScanCompleted EventType = "scan_completed"
	EventScanFailed    EventType = "scan_failed"
	EventScanCancelled EventType = "scan_cancelled"
	EventScanRetried   EventType = "scan_retried"
	EventScanDeleted   EventType = "scan_deleted"

	// Adapter outcomes
	EventAdapterFailed  EventType = "adapter_failed"
	EventAdapterTimeout EventType = "adapter_timeout"

	// Maintenance
	EventScanTimedOut EventType = "scan_timed_out"
	EventRetentionRun EventType = "retention_cleanup"
)

// Severity represents log severity level.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARN"
	SeverityError   Severity = "ERROR"
)

// Event represents an audit event.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	Severity  Severity       `json:"severity"`
	ScanID    string         `json:"scan_id,omitempty"`
	AccountID string         `json:"account_id,omitempty"`
	Adapter   string         `json:"adapter,omitempty"`
	Message   string         `json:"message"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration_ms,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Sink receives audit events.
type Sink interface {
	Log(event Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Log(Event) {}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}

// LoggerConfig configures the audit logger.
type LoggerConfig struct {
	// LogFile is the path to the audit log file.
	// Default: ~/.scanorch/audit.log
	LogFile string

	// BufferSize is the number of events to buffer before flushing.
	// Default: 100
	BufferSize int

	// FlushInterval is how often to flush buffered events.
	// Default: 5 seconds
	FlushInterval time.Duration

	// Console, when set, also receives one human-readable line per event.
	Console io.Writer
}

// DefaultLoggerConfig returns the default configuration.
func DefaultLoggerConfig() *LoggerConfig {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = os.TempDir()
	}
	return &LoggerConfig{
		LogFile:       filepath.Join(home, ".scanorch", "audit.log"),
		BufferSize:    100,
		FlushInterval: 5 * time.Second,
	}
}

// Logger buffers events and appends them to a JSONL file.
type Logger struct {
	config *LoggerConfig
	file   *os.File
	mu     sync.Mutex

	buffer   []Event
	bufferMu sync.Mutex

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	now func() time.Time
}

// NewLogger opens the audit file for append.
func NewLogger(config *LoggerConfig) (*Logger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
	}
	if config.LogFile == "" {
		config.LogFile = DefaultLoggerConfig().LogFile
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}

	if err := os.MkdirAll(filepath.Dir(config.LogFile), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	// 0640 = owner read/write, group read
	file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		config: config,
		file:   file,
		buffer: make([]Event, 0, config.BufferSize),
		now:    time.Now,
	}, nil
}

// Start begins background flushing.
func (l *Logger) Start() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.mu.Unlock()

	l.wg.Add(1)
	go l.flushLoop()
}

// Close stops background flushing, writes what is buffered and closes the
// file.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.running {
		l.running = false
		close(l.stopCh)
	}
	l.mu.Unlock()

	l.wg.Wait()
	l.Flush()

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Log records an audit event.
func (l *Logger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	l.bufferMu.Lock()
	l.buffer = append(l.buffer, event)
	shouldFlush := len(l.buffer) >= l.config.BufferSize
	l.bufferMu.Unlock()

	if l.config.Console != nil {
		l.printEvent(event)
	}
	if shouldFlush {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.Flush()
		}()
	}
}

// Flush writes buffered events to disk.
func (l *Logger) Flush() {
	l.bufferMu.Lock()
	if len(l.buffer) == 0 {
		l.bufferMu.Unlock()
		return
	}
	events := l.buffer
	l.buffer = make([]Event, 0, l.config.BufferSize)
	l.bufferMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	enc := json.NewEncoder(l.file)
	for _, event := range events {
		_ = enc.Encode(event)
	}
	_ = l.file.Sync()
}

func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.Flush()
		}
	}
}

func (l *Logger) printEvent(event Event) {
	fmt.Fprintf(l.config.Console, "[%s] [%s] %s: %s\n",
		event.Timestamp.Format("2006-01-02 15:04:05"), event.Severity, event.Type, event.Message)
	if event.Error != "" {
		fmt.Fprintf(l.config.Console, "  Error: %s\n", event.Error)
	}
}

// Recorder keeps events in memory. Tests use it to assert on the trail.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Log(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

var (
	_ Sink = (*Logger)(nil)
	_ Sink = (*Recorder)(nil)
	_ Sink = Nop{}
)
