package core

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
)

// Logger is the operator-facing logging interface used across scanorch.
// Scan logs that users see go through the persistence collaborator instead.
type Logger interface {
	// Debug logs a debug message
	Debug(format string, args ...interface{})

	// Info logs an info message
	Info(format string, args ...interface{})

	// Warn logs a warning message
	Warn(format string, args ...interface{})

	// Error logs an error message
	Error(format string, args ...interface{})
}

// LogLevelThreshold is the minimum level a logger emits.
type LogLevelThreshold int

const (
	LevelDebug LogLevelThreshold = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSilent
)

// ParseLevel maps "debug", "info", "warn", "error" and "silent" to a threshold.
func ParseLevel(s string) LogLevelThreshold {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "silent", "off":
		return LevelSilent
	default:
		return LevelInfo
	}
}

// DefaultLogger writes prefixed lines through the standard log package.
type DefaultLogger struct {
	level  LogLevelThreshold
	prefix string
	logger *log.Logger
}

// NewDefaultLogger creates a new default logger writing to stderr.
func NewDefaultLogger(prefix string, level LogLevelThreshold) *DefaultLogger {
	return &DefaultLogger{
		level:  level,
		prefix: prefix,
		logger: log.New(os.Stderr, "", log.LstdFlags),
	}
}

// SetOutput sets the output writer.
func (l *DefaultLogger) SetOutput(w io.Writer) {
	l.logger.SetOutput(w)
}

func (l *DefaultLogger) Debug(format string, args ...interface{}) {
	if l.level <= LevelDebug {
		l.log("DEBUG", format, args...)
	}
}

func (l *DefaultLogger) Info(format string, args ...interface{}) {
	if l.level <= LevelInfo {
		l.log("INFO", format, args...)
	}
}

func (l *DefaultLogger) Warn(format string, args ...interface{}) {
	if l.level <= LevelWarn {
		l.log("WARN", format, args...)
	}
}

func (l *DefaultLogger) Error(format string, args ...interface{}) {
	if l.level <= LevelError {
		l.log("ERROR", format, args...)
	}
}

func (l *DefaultLogger) log(level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if l.prefix != "" {
		l.logger.Printf("[%s] [%s] %s", l.prefix, level, msg)
	} else {
		l.logger.Printf("[%s] %s", level, msg)
	}
}

// SlogLogger adapts a *slog.Logger, used by the CLI for JSON output.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps l. A nil l uses slog.Default().
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l}
}

func (s *SlogLogger) Debug(format string, args ...interface{}) {
	s.emit(slog.LevelDebug, format, args...)
}

func (s *SlogLogger) Info(format string, args ...interface{}) {
	s.emit(slog.LevelInfo, format, args...)
}

func (s *SlogLogger) Warn(format string, args ...interface{}) {
	s.emit(slog.LevelWarn, format, args...)
}

func (s *SlogLogger) Error(format string, args ...interface{}) {
	s.emit(slog.LevelError, format, args...)
}

func (s *SlogLogger) emit(level slog.Level, format string, args ...interface{}) {
	ctx := context.Background()
	if !s.l.Enabled(ctx, level) {
		return
	}
	s.l.Log(ctx, level, fmt.Sprintf(format, args...))
}

// NopLogger discards all messages.
type NopLogger struct{}

func (NopLogger) Debug(format string, args ...interface{}) {}
func (NopLogger) Info(format string, args ...interface{})  {}
func (NopLogger) Warn(format string, args ...interface{})  {}
func (NopLogger) Error(format string, args ...interface{}) {}

// LoggerOrNop returns l, or a NopLogger when l is nil.
func LoggerOrNop(l Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return l
}

// Ensure implementations satisfy the interface
var (
	_ Logger = (*DefaultLogger)(nil)
	_ Logger = (*SlogLogger)(nil)
	_ Logger = NopLogger{}
)
