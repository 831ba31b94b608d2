package debug

import (
	"log"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// LogLevel controls structured event verbosity.
type LogLevel int

const (
	LevelNone LogLevel = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l LogLevel) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	default:
		return "none"
	}
}

// ParseLogLevel accepts names or digits; unknown values mean warn.
func ParseLogLevel(raw string) LogLevel {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "none", "off", "0":
		return LevelNone
	case "error", "err", "1":
		return LevelError
	case "warn", "warning", "2":
		return LevelWarn
	case "info", "3":
		return LevelInfo
	case "debug", "4":
		return LevelDebug
	case "trace", "5":
		return LevelTrace
	default:
		return LevelWarn
	}
}

// LevelFromEnv reads ZB_LOG_LEVEL.
func LevelFromEnv() LogLevel {
	v, ok := os.LookupEnv("ZB_LOG_LEVEL")
	if !ok {
		return LevelWarn
	}
	return ParseLogLevel(v)
}

// EventLogger writes one JSON object per event through the standard logger.
// A nil *EventLogger discards everything.
type EventLogger struct {
	Component string
	Level     LogLevel
	// Logger defaults to log.Default().
	Logger *log.Logger
}

// NewEventLogger returns a logger for component at the ZB_LOG_LEVEL level.
func NewEventLogger(component string) *EventLogger {
	return &EventLogger{Component: component, Level: LevelFromEnv()}
}

// Event logs event with fields if level is enabled.
func (e *EventLogger) Event(level LogLevel, event string, fields map[string]any) {
	if e == nil || level == LevelNone || e.Level == LevelNone || level > e.Level {
		return
	}
	payload := map[string]any{
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level.String(),
		"component": e.Component,
		"event":     event,
	}
	for k, v := range fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	l := e.Logger
	if l == nil {
		l = log.Default()
	}
	if err != nil {
		l.Printf("%s: failed to marshal log event %s: %v", e.Component, event, err)
		return
	}
	l.Printf("%s", b)
}
