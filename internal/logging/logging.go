// Package logging writes one JSON object per line following the OTEL log
// data model. Entries fan out to an optional secondary hook so another
// sink, such as OTLP export, can receive them without this package
// importing it.
package logging

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is the log severity text.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelFatal Level = "FATAL"
)

// severityNumbers follows the OTEL log data model severity table.
var severityNumbers = map[Level]int{
	LevelInfo:  9,
	LevelWarn:  13,
	LevelError: 17,
	LevelFatal: 21,
}

// SeverityNumber returns the OTEL severity number for a level. Unknown
// levels return 0, which sorts below every real severity.
func SeverityNumber(level Level) int {
	return severityNumbers[level]
}

// ParseLevel maps a config string to a Level. Unknown strings fall back
// to INFO so a typo in -log-level never silences the service.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// LogHook receives every emitted entry after it is written.
type LogHook func(level Level, msg string, attrs map[string]interface{})

// LogEntry is the wire shape of one log line.
type LogEntry struct {
	Timestamp      string                 `json:"Timestamp"`
	SeverityText   string                 `json:"SeverityText"`
	SeverityNumber int                    `json:"SeverityNumber"`
	Body           string                 `json:"Body"`
	Attributes     map[string]interface{} `json:"Attributes,omitempty"`
	Resource       map[string]string      `json:"Resource,omitempty"`
}

// Logger serializes entries to a single writer.
type Logger struct {
	mu       sync.Mutex
	enc      *json.Encoder
	minLevel Level
	resource map[string]string
	hook     LogHook
}

var defaultLogger = &Logger{enc: json.NewEncoder(os.Stdout), minLevel: LevelInfo}

// SetOutput redirects the default logger.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.enc = json.NewEncoder(w)
}

// SetLevel sets the minimum severity the default logger emits.
func SetLevel(level Level) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.minLevel = level
}

// SetResource attaches resource attributes, such as service.name, to
// every entry. Call once at startup.
func SetResource(resource map[string]string) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.resource = resource
}

// SetHook registers the secondary sink. A nil hook removes it.
func SetHook(hook LogHook) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.hook = hook
}

func (l *Logger) log(level Level, msg string, attrs map[string]interface{}) {
	l.mu.Lock()
	if severityNumbers[level] < severityNumbers[l.minLevel] {
		l.mu.Unlock()
		return
	}
	_ = l.enc.Encode(LogEntry{
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		SeverityText:   string(level),
		SeverityNumber: severityNumbers[level],
		Body:           msg,
		Attributes:     attrs,
		Resource:       l.resource,
	})
	hook := l.hook
	l.mu.Unlock()

	// The hook runs unlocked so it can log without deadlocking.
	if hook != nil {
		hook(level, msg, attrs)
	}
}

func first(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Info logs at INFO.
func Info(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelInfo, msg, first(fields))
}

// Warn logs at WARN.
func Warn(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelWarn, msg, first(fields))
}

// Error logs at ERROR.
func Error(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelError, msg, first(fields))
}

// Fatal logs at FATAL and exits the process.
func Fatal(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelFatal, msg, first(fields))
	os.Exit(1)
}

// F builds an attribute map from alternating keys and values. Non-string
// keys and a trailing odd value are dropped.
func F(keyvals ...interface{}) map[string]interface{} {
	attrs := make(map[string]interface{}, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		if k, ok := keyvals[i].(string); ok {
			attrs[k] = keyvals[i+1]
		}
	}
	return attrs
}
