// Package logging provides structured JSON logging for patchbay components.
//
// Every entry carries timestamp, level, message and component. Lifecycle
// events are emitted through Event, which adds an event_type field so log
// pipelines can filter on it.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a component-scoped structured logger.
type Logger struct {
	zap *zap.Logger
}

// New creates a logger writing JSON lines to w at the given minimum level
// ("debug", "info", "warn", "error"). Unknown levels fall back to info.
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = os.Stderr
	}

	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		NameKey:     "component",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
		EncodeName:  zapcore.FullNameEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		lvl,
	)
	return &Logger{zap: zap.New(core)}
}

// Nop returns a logger that discards everything. Used by tests and by
// library callers that do not configure logging.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// Named returns a child logger for a component.
func (l *Logger) Named(component string) *Logger {
	return &Logger{zap: l.zap.Named(component)}
}

// With returns a child logger that always includes the given fields.
func (l *Logger) With(fields map[string]any) *Logger {
	return &Logger{zap: l.zap.With(toFields(fields)...)}
}

// Event logs an info-level lifecycle event.
func (l *Logger) Event(eventType string, fields map[string]any) {
	l.zap.Info(eventType, append(toFields(fields), zap.String("event_type", eventType))...)
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.zap.Debug(message, toFields(fields)...)
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	l.zap.Info(message, toFields(fields)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.zap.Warn(message, toFields(fields)...)
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	l.zap.Error(message, toFields(fields)...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

func toFields(fields map[string]any) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}
