// Package logging provides structured logging for offgrid-t2i.
// It keeps a small map-of-fields API on top of zap so call sites stay terse.
package logging

import (
	"io"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents log severity
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

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

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger provides structured logging
type Logger struct {
	mu       sync.Mutex
	output   zapcore.WriteSyncer
	level    zap.AtomicLevel
	jsonMode bool
	fields   []zap.Field
	zl       *zap.Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the default logger. It writes to stderr so stdout stays
// reserved for command output.
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(os.Stderr)
	})
	return defaultLogger
}

// New creates a new logger
func New(output io.Writer) *Logger {
	l := &Logger{
		output: zapcore.AddSync(output),
		level:  zap.NewAtomicLevelAt(zapcore.InfoLevel),
	}
	l.rebuild()
	return l
}

func (l *Logger) rebuild() {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.MessageKey = "message"
	encCfg.LevelKey = "level"
	encCfg.TimeKey = "time"
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if l.jsonMode {
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, l.output, l.level)
	l.zl = zap.New(core).With(l.fields...)
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level Level) *Logger {
	l.level.SetLevel(level.zapLevel())
	return l
}

// SetLevelFromString sets level from string (debug, info, warn, error)
func (l *Logger) SetLevelFromString(level string) *Logger {
	switch level {
	case "debug":
		l.SetLevel(LevelDebug)
	case "info":
		l.SetLevel(LevelInfo)
	case "warn", "warning":
		l.SetLevel(LevelWarn)
	case "error":
		l.SetLevel(LevelError)
	}
	return l
}

// SetJSON enables JSON output mode
func (l *Logger) SetJSON(enabled bool) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonMode != enabled {
		l.jsonMode = enabled
		l.rebuild()
	}
	return l
}

// With returns a new logger with additional fields
func (l *Logger) With(fields map[string]any) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	merged := make([]zap.Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, toFields(fields)...)

	child := &Logger{
		output:   l.output,
		level:    l.level,
		jsonMode: l.jsonMode,
		fields:   merged,
	}
	child.rebuild()
	return child
}

// Zap exposes the underlying zap logger for libraries that want one.
func (l *Logger) Zap() *zap.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.zl
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.Zap().Sync()
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...map[string]any) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...map[string]any) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...map[string]any) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields ...map[string]any) {
	l.log(LevelError, msg, fields...)
}

func (l *Logger) log(level Level, msg string, fields ...map[string]any) {
	zl := l.Zap()

	var zf []zap.Field
	for _, f := range fields {
		zf = append(zf, toFields(f)...)
	}

	switch level {
	case LevelDebug:
		zl.Debug(msg, zf...)
	case LevelInfo:
		zl.Info(msg, zf...)
	case LevelWarn:
		zl.Warn(msg, zf...)
	default:
		zl.Error(msg, zf...)
	}
}

// toFields converts a field map into zap fields with a stable key order.
func toFields(m map[string]any) []zap.Field {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := m[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, m[k]))
	}
	return out
}

// SetLevelFromString sets the default logger level by name
func SetLevelFromString(level string) {
	Default().SetLevelFromString(level)
}

// SetJSON enables JSON mode on the default logger
func SetJSON(enabled bool) {
	Default().SetJSON(enabled)
}
