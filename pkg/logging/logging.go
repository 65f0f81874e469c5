package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Level defines the severity of a log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String makes Level satisfy the fmt.Stringer interface.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFromVerbosity maps the user-facing 0-3 verbosity scale onto a filter level.
func LevelFromVerbosity(verbosity int) Level {
	switch {
	case verbosity <= 0:
		return LevelWarn
	case verbosity == 1:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// Entry is a single structured log record handed to a Sink.
type Entry struct {
	Timestamp time.Time
	Level     Level
	Subsystem string
	Message   string
	Err       error
	// Always bypasses the sink's level filter. Per-request outcome lines
	// set it: every proxied request logs exactly once at any verbosity.
	Always bool
}

// Sink consumes log entries. Implementations decide where entries end up
// (console, dashboard feed). A Sink is constructed once at startup and passed
// down explicitly; components never reach for ambient logging state.
type Sink interface {
	Emit(Entry)
}

// ConsoleSink writes entries to an io.Writer through slog's text handler.
type ConsoleSink struct {
	logger      *slog.Logger
	filterLevel Level
}

// NewConsoleSink creates a sink writing human-readable lines to output,
// dropping entries below filterLevel. Entries marked Always skip the filter.
func NewConsoleSink(output io.Writer, filterLevel Level) *ConsoleSink {
	// The handler admits everything; filtering happens in Emit so that
	// Always entries can pass at any level.
	handler := slog.NewTextHandler(output, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	return &ConsoleSink{logger: slog.New(handler), filterLevel: filterLevel}
}

func (s *ConsoleSink) Emit(e Entry) {
	if !e.Always && e.Level < s.filterLevel {
		return
	}
	attrs := []slog.Attr{slog.String("subsystem", e.Subsystem)}
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}
	s.logger.LogAttrs(context.Background(), e.Level.SlogLevel(), e.Message, attrs...)
}

const defaultChannelBufferSize = 2048

// ChannelSink queues entries on a buffered channel for the dashboard to drain.
// Entries are dropped when the buffer is full rather than blocking a session.
type ChannelSink struct {
	ch          chan Entry
	filterLevel Level
}

// NewChannelSink creates a channel-backed sink. A bufferSize <= 0 selects the
// default buffer.
func NewChannelSink(filterLevel Level, bufferSize int) *ChannelSink {
	if bufferSize <= 0 {
		bufferSize = defaultChannelBufferSize
	}
	return &ChannelSink{
		ch:          make(chan Entry, bufferSize),
		filterLevel: filterLevel,
	}
}

func (s *ChannelSink) Emit(e Entry) {
	if !e.Always && e.Level < s.filterLevel {
		return
	}
	select {
	case s.ch <- e:
	default:
		// Buffer full: the dashboard has fallen behind. Dropping beats
		// stalling a proxy request handler on a render loop.
	}
}

// Entries returns the channel the dashboard reads from.
func (s *ChannelSink) Entries() <-chan Entry {
	return s.ch
}

// Close closes the entry channel. Call only after all producers have stopped.
func (s *ChannelSink) Close() {
	close(s.ch)
}

// Logger is the handle components log through. It carries the sink and offers
// the leveled, subsystem-tagged call shape used throughout the codebase.
type Logger struct {
	sink Sink
}

// New creates a Logger emitting to sink.
func New(sink Sink) *Logger {
	return &Logger{sink: sink}
}

func (l *Logger) log(level Level, subsystem string, err error, always bool, messageFmt string, args ...interface{}) {
	if l == nil || l.sink == nil {
		return
	}
	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}
	l.sink.Emit(Entry{
		Timestamp: time.Now(),
		Level:     level,
		Subsystem: subsystem,
		Message:   msg,
		Err:       err,
		Always:    always,
	})
}

// Debug logs a debug message.
func (l *Logger) Debug(subsystem string, messageFmt string, args ...interface{}) {
	l.log(LevelDebug, subsystem, nil, false, messageFmt, args...)
}

// Info logs an informational message.
func (l *Logger) Info(subsystem string, messageFmt string, args ...interface{}) {
	l.log(LevelInfo, subsystem, nil, false, messageFmt, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(subsystem string, messageFmt string, args ...interface{}) {
	l.log(LevelWarn, subsystem, nil, false, messageFmt, args...)
}

// Error logs an error message.
func (l *Logger) Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	l.log(LevelError, subsystem, err, false, messageFmt, args...)
}

// Request logs a per-request outcome line. These reach every sink at any
// verbosity; only body capture is verbosity-gated, never the outcome line.
func (l *Logger) Request(level Level, subsystem string, err error, messageFmt string, args ...interface{}) {
	l.log(level, subsystem, err, true, messageFmt, args...)
}
