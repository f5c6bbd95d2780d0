package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger provides structured logging with consistent fields.
type Logger struct {
	base zerolog.Logger
}

// New creates a logger scoped to a component.
func New(component string) *Logger {
	return NewWithLevel(component, os.Getenv("GRIDMESH_LOG_LEVEL"))
}

// NewWithLevel creates a component logger at an explicit level. Unknown or
// empty level strings fall back to info.
func NewWithLevel(component, level string) *Logger {
	lvl := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil && level != "" {
		lvl = parsed
	}
	l := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("component", component).
		Logger().
		Level(lvl)
	zerolog.DurationFieldUnit = time.Millisecond
	return &Logger{base: l}
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() *Logger {
	return &Logger{base: zerolog.Nop()}
}

// With returns a child logger carrying the extra key/value pairs on every line.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{base: l.base.With().Fields(kvToMap(keyvals...)).Logger()}
}

// Debug logs debug messages with optional key/value pairs.
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.base.Debug().Fields(kvToMap(keyvals...)).Msg(msg)
}

// Info logs informational messages with optional key/value pairs.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.base.Info().Fields(kvToMap(keyvals...)).Msg(msg)
}

// Warn logs warning messages with optional key/value pairs.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.base.Warn().Fields(kvToMap(keyvals...)).Msg(msg)
}

// Error logs error messages with optional key/value pairs.
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.base.Error().Fields(kvToMap(keyvals...)).Msg(msg)
}

// kvToMap converts a flat list of key/value pairs into a map for zerolog.
func kvToMap(kv ...interface{}) map[string]interface{} {
	fields := make(map[string]interface{})
	for i := 0; i < len(kv)-1; i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return fields
}
