package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format represents the output format for logs
type Format int

const (
	// FormatConsole is human-readable console output
	FormatConsole Format = iota
	// FormatJSON is structured JSON output
	FormatJSON
)

// String returns the flag-friendly name of a Format
func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "console"
}

// Level represents a logging level
type Level int

const (
	// DebugLevel is for debug messages
	DebugLevel Level = iota
	// InfoLevel is for informational messages
	InfoLevel
	// WarnLevel is for warning messages
	WarnLevel
	// ErrorLevel is for error messages
	ErrorLevel
)

// String returns the string representation of a Level
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel converts a string to a Level
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger provides structured logging on top of a zap core.
// The zero value is not usable; a nil *Logger discards everything.
type Logger struct {
	z     *zap.Logger
	level zap.AtomicLevel
}

// New creates a new Logger with the specified level and console format
func New(level Level) *Logger {
	return build(level, FormatConsole, os.Stdout)
}

// NewWithFormat creates a new Logger with the specified level and format
func NewWithFormat(level Level, format Format) *Logger {
	return build(level, format, os.Stdout)
}

// NewWithOutput creates a new Logger with the specified level and output writer
func NewWithOutput(level Level, output io.Writer) *Logger {
	return build(level, FormatConsole, output)
}

// NewWithFormatAndOutput creates a new Logger writing the given format to output
func NewWithFormatAndOutput(level Level, format Format, output io.Writer) *Logger {
	return build(level, format, output)
}

// FromZap wraps an existing zap logger, typically one built by zaptest.
func FromZap(z *zap.Logger) *Logger {
	return &Logger{z: z, level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}
}

// Nop returns a Logger that discards all output
func Nop() *Logger {
	return FromZap(zap.NewNop())
}

func build(level Level, format Format, output io.Writer) *Logger {
	config := zap.NewProductionEncoderConfig()
	config.TimeKey = "timestamp"
	config.MessageKey = "message"
	config.EncodeLevel = zapcore.CapitalLevelEncoder
	config.EncodeTime = func(ts time.Time, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(ts.UTC().Format(time.RFC3339))
	}
	config.EncodeDuration = func(d time.Duration, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(d.String())
	}

	var encoder zapcore.Encoder
	if format == FormatJSON {
		encoder = zapcore.NewJSONEncoder(config)
	} else {
		encoder = zapcore.NewConsoleEncoder(config)
	}

	atom := zap.NewAtomicLevelAt(level.zapLevel())
	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(output)), atom)
	return &Logger{z: zap.New(core), level: atom}
}

// SetLevel changes the logging level
func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.level.SetLevel(level.zapLevel())
}

// Enabled reports whether messages at level would be written
func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return l.z.Core().Enabled(level.zapLevel())
}

// With returns a child logger that adds fields to every entry
func (l *Logger) With(fields ...Field) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{z: l.z.With(fields...), level: l.level}
}

// Named returns a child logger with name appended to the logger name
func (l *Logger) Named(name string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{z: l.z.Named(name), level: l.level}
}

// Zap exposes the underlying zap logger
func (l *Logger) Zap() *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.z
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.z.Sync()
}

// Debug logs a debug message with optional fields
func (l *Logger) Debug(msg string, fields ...Field) {
	if l == nil {
		return
	}
	l.z.Debug(msg, fields...)
}

// Info logs an informational message with optional fields
func (l *Logger) Info(msg string, fields ...Field) {
	if l == nil {
		return
	}
	l.z.Info(msg, fields...)
}

// Warn logs a warning message with optional fields
func (l *Logger) Warn(msg string, fields ...Field) {
	if l == nil {
		return
	}
	l.z.Warn(msg, fields...)
}

// Error logs an error message with optional fields
func (l *Logger) Error(msg string, fields ...Field) {
	if l == nil {
		return
	}
	l.z.Error(msg, fields...)
}

// Field represents a structured logging field
type Field = zap.Field

// String creates a Field with a string value
func String(key, value string) Field {
	return zap.String(key, value)
}

// Int creates a Field with an integer value
func Int(key string, value int) Field {
	return zap.Int(key, value)
}

// Uint32 creates a Field with an unsigned value
func Uint32(key string, value uint32) Field {
	return zap.Uint32(key, value)
}

// Uint64 creates a Field with an unsigned 64-bit value
func Uint64(key string, value uint64) Field {
	return zap.Uint64(key, value)
}

// Bool creates a Field with a boolean value
func Bool(key string, value bool) Field {
	return zap.Bool(key, value)
}

// Duration creates a Field with a duration value
func Duration(key string, value time.Duration) Field {
	return zap.Duration(key, value)
}

// Error creates a Field with an error value
func Error(err error) Field {
	return zap.Error(err)
}

// Any creates a Field with any value
func Any(key string, value any) Field {
	return zap.Any(key, value)
}
