// Package logger provides the structured logging layer for Navigator on
// top of go.uber.org/zap. Every runtime component logs through a
// component-scoped Logger so audit trails, workflow traces, and bus
// diagnostics share one field vocabulary: component, session_id, agent,
// correlation_id.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field names shared across the runtime.
const (
	FieldComponent     = "component"
	FieldSessionID     = "session_id"
	FieldAgent         = "agent"
	FieldCorrelationID = "correlation_id"
)

// LoggingConfig holds the logging section of the service configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
}

// Logger wraps a zap.Logger with the runtime's field conventions.
type Logger struct {
	core *zap.Logger
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = &Logger{core: zap.NewNop()}
)

// SetDefault installs the process-wide logger. Until it runs, Default
// returns a no-op logger so early code paths never nil-check.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Default returns the process-wide logger.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// NewLogger builds a logger from the configuration. The level and output
// path are validated here; format falls back to json for anything that is
// not a console alias.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	sink, err := openSink(cfg.OutputPath)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(newEncoder(cfg.Format), sink, level)
	return &Logger{core: zap.New(core, zap.AddCaller())}, nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

func newEncoder(format string) zapcore.Encoder {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	switch strings.ToLower(format) {
	case "console", "text":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encCfg)
	default:
		return zapcore.NewJSONEncoder(encCfg)
	}
}

func openSink(path string) (zapcore.WriteSyncer, error) {
	switch path {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	default:
		file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log output %q: %w", path, err)
		}
		return zapcore.Lock(file), nil
	}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.core.Sync()
}

// Component returns a logger scoped to a named runtime component.
func (l *Logger) Component(name string) *Logger {
	return l.WithFields(zap.String(FieldComponent, name))
}

// WithFields returns a new Logger with the given fields attached.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{core: l.core.With(fields...)}
}

// WithSessionID returns a new Logger carrying the session_id field.
func (l *Logger) WithSessionID(sessionID string) *Logger {
	return l.WithFields(zap.String(FieldSessionID, sessionID))
}

// WithAgent returns a new Logger carrying the agent field.
func (l *Logger) WithAgent(agent string) *Logger {
	return l.WithFields(zap.String(FieldAgent, agent))
}

// WithCorrelationID returns a new Logger carrying the correlation_id field.
func (l *Logger) WithCorrelationID(correlationID string) *Logger {
	return l.WithFields(zap.String(FieldCorrelationID, correlationID))
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.core.Debug(msg, fields...)
}

// Info logs at info level.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.core.Info(msg, fields...)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.core.Warn(msg, fields...)
}

// Error logs at error level.
func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.core.Error(msg, fields...)
}
