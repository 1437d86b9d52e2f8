// Package logging provides structured component loggers backed by zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Format selects the output encoding.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Logger writes leveled, structured entries for one component.
type Logger struct {
	output    io.Writer
	format    Format
	minLevel  Level
	component string
	traceID   string
	zl        zerolog.Logger
}

// New creates a console logger writing to stderr at INFO.
func New() *Logger {
	l := &Logger{
		output:   os.Stderr,
		format:   FormatConsole,
		minLevel: LevelInfo,
	}
	l.rebuild()
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := New()
	l.SetOutput(io.Discard)
	return l
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l *Logger) clone() *Logger {
	c := &Logger{
		output:    l.output,
		format:    l.format,
		minLevel:  l.minLevel,
		component: l.component,
		traceID:   l.traceID,
	}
	return c
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	c := l.clone()
	c.component = component
	c.rebuild()
	return c
}

// WithTraceID returns a new logger with the given trace ID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	c := l.clone()
	c.traceID = traceID
	c.rebuild()
	return c
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
	l.rebuild()
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	l.rebuild()
}

// SetFormat switches between console and JSON output.
func (l *Logger) SetFormat(f Format) {
	l.format = f
	l.rebuild()
}

func (l *Logger) rebuild() {
	var w io.Writer = l.output
	if l.format != FormatJSON {
		w = zerolog.ConsoleWriter{Out: l.output, TimeFormat: time.RFC3339, NoColor: true}
	}
	ctx := zerolog.New(w).Level(zerologLevel(l.minLevel)).With().Timestamp()
	if l.component != "" {
		ctx = ctx.Str("component", l.component)
	}
	if l.traceID != "" {
		ctx = ctx.Str("trace_id", l.traceID)
	}
	l.zl = ctx.Logger()
}

func zerologLevel(level Level) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.write(l.zl.Debug(), msg, fields)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.write(l.zl.Info(), msg, fields)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.write(l.zl.Warn(), msg, fields)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.write(l.zl.Error(), msg, fields)
}

func (l *Logger) write(evt *zerolog.Event, msg string, fields []map[string]interface{}) {
	if evt == nil {
		return
	}
	if len(fields) > 0 && fields[0] != nil {
		evt = evt.Fields(fields[0])
	}
	evt.Msg(msg)
}

// ToolDispatch logs the start of a tool call. Arguments are not logged
// since they can carry file contents.
func (l *Logger) ToolDispatch(tool, session, callID string) {
	l.Info("tool_call", map[string]interface{}{
		"tool":    tool,
		"session": session,
		"call_id": callID,
	})
}

// ToolResult logs a tool result.
func (l *Logger) ToolResult(tool, session, callID string, duration time.Duration, errKind, reason string) {
	fields := map[string]interface{}{
		"tool":     tool,
		"session":  session,
		"call_id":  callID,
		"duration": duration.String(),
	}
	if errKind != "" {
		fields["kind"] = errKind
		fields["reason"] = reason
		l.Warn("tool_failed", fields)
		return
	}
	l.Info("tool_result", fields)
}

// StageTransition logs a deployment state change.
func (l *Logger) StageTransition(provider, session, runID, from, to string) {
	l.Info("deploy_transition", map[string]interface{}{
		"provider": provider,
		"session":  session,
		"run_id":   runID,
		"from":     from,
		"to":       to,
	})
}
