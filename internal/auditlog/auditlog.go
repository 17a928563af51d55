// Package auditlog provides structured, level-gated logging shared by the
// sidecar and the license server.
//
// Two output formats are supported:
//
//   - text: a single line with fixed-width columns, matching the format
//     the sidecar has always used on a developer's terminal —
//     2006-01-02 15:04:05.000 | MODULE       | ACTION               | LEVEL | message
//   - json: one JSON object per line, suitable for ingestion by a log
//     collector — {"timestamp","severity","logger","message",...extra}
//
// Levels (lowest to highest): debug, info, warn, error.
// Entries below the configured minimum level are silently dropped.
//
// Usage:
//
//	log := auditlog.New("vault", auditlog.FormatJSON, cfg.LogLevel)
//	log.Info("unlock", "vault unlocked", auditlog.Field{Key: "doc_id", Value: docID})
//	log.Errorf("unlock", "derive key: %v", err)
package auditlog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents a log severity.
type Level int

// Log severity constants, ordered lowest to highest.
const (
	LevelDebug Level = iota // fine-grained diagnostic output
	LevelInfo               // normal operational messages
	LevelWarn               // unexpected but recoverable conditions
	LevelError              // failures requiring attention
)

func (l Level) label() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN "
	case LevelError:
		return "ERROR"
	default:
		return "INFO "
	}
}

func (l Level) severity() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Format selects the on-wire line shape.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// ParseFormat converts a config string to a Format, defaulting to text.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// allowedExtraKeys mirrors the license server's structured-logging
// allowlist so request-scoped fields stay bounded and greppable.
var allowedExtraKeys = map[string]bool{
	"request_id":  true,
	"user_id":     true,
	"method":      true,
	"path":        true,
	"status_code": true,
	"duration_ms": true,
	"ip":          true,
	"machine_id":  true,
	"doc_id":      true,
	"error_type":  true,
	"exception":   true,
}

// Field is one piece of structured context attached to a log entry.
// Keys outside allowedExtraKeys are dropped in JSON mode to keep the
// on-disk schema stable; they still appear inline in text mode.
type Field struct {
	Key   string
	Value any
}

// Logger writes structured log lines for a single module ("logger" in
// JSON mode, left-padded "MODULE" column in text mode).
type Logger struct {
	mu     sync.Mutex
	module string
	level  Level
	format Format
	out    io.Writer
}

// New creates a Logger for the given module, gated at the given level string.
// Unrecognized level strings default to "info".
func New(module string, format Format, levelStr string) *Logger {
	return &Logger{
		module: strings.ToUpper(module),
		level:  parseLevel(levelStr),
		format: format,
		out:    os.Stderr,
	}
}

// SetLevel changes the minimum log level at runtime.
func (l *Logger) SetLevel(levelStr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = parseLevel(levelStr)
}

func (l *Logger) Debug(action, msg string, fields ...Field) { l.write(LevelDebug, action, msg, fields) }
func (l *Logger) Info(action, msg string, fields ...Field)  { l.write(LevelInfo, action, msg, fields) }
func (l *Logger) Warn(action, msg string, fields ...Field)  { l.write(LevelWarn, action, msg, fields) }
func (l *Logger) Error(action, msg string, fields ...Field) { l.write(LevelError, action, msg, fields) }

func (l *Logger) Debugf(action, format string, args ...any) {
	l.Debug(action, fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(action, format string, args ...any) {
	l.Info(action, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(action, format string, args ...any) {
	l.Warn(action, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(action, format string, args ...any) {
	l.Error(action, fmt.Sprintf(format, args...))
}

// Fatal logs at ERROR level and then calls os.Exit(1).
func (l *Logger) Fatal(action, msg string, fields ...Field) {
	l.Error(action, msg, fields...)
	os.Exit(1)
}

func (l *Logger) Fatalf(action, format string, args ...any) {
	l.Fatal(action, fmt.Sprintf(format, args...))
}

type jsonRecord struct {
	Timestamp string         `json:"timestamp"`
	Severity  string         `json:"severity"`
	Logger    string         `json:"logger"`
	Action    string         `json:"action"`
	Message   string         `json:"message"`
	Extra     map[string]any `json:"-"`
}

func (l *Logger) write(level Level, action, msg string, fields []Field) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.format == FormatJSON {
		rec := map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"severity":  level.severity(),
			"logger":    l.module,
			"action":    action,
			"message":   msg,
		}
		for _, f := range fields {
			if allowedExtraKeys[f.Key] {
				rec[f.Key] = f.Value
			}
		}
		enc, err := json.Marshal(rec)
		if err != nil {
			// marshaling a map of primitives cannot fail in practice; fall
			// back to a minimal record rather than lose the line.
			fmt.Fprintf(l.out, `{"severity":"ERROR","logger":"AUDITLOG","message":"marshal failed: %v"}`+"\n", err)
			return
		}
		l.out.Write(append(enc, '\n'))
		return
	}

	ts := time.Now().Format("2006-01-02 15:04:05.000")
	var extra strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&extra, " %s=%v", f.Key, f.Value)
	}
	fmt.Fprintf(l.out, "%s | %-12s | %-22s | %s | %s%s\n", ts, l.module, action, level.label(), msg, extra.String())
}

// parseLevel converts a string to a Level, defaulting to LevelInfo.
func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}
