// Package dosgate provides logging hooks.
package dosgate

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging hooks.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// NopLogger discards every message.
type NopLogger struct{}

// Debug discards the message.
func (NopLogger) Debug(string, map[string]any) {}

// Info discards the message.
func (NopLogger) Info(string, map[string]any) {}

// Error discards the message.
func (NopLogger) Error(string, map[string]any) {}

// ZapLogger adapts a zap logger to the Logger interface.
type ZapLogger struct {
	l *zap.Logger
}

// NewZapLogger constructs a production zap-backed logger at the given
// level. An empty level keeps zap's default.
func NewZapLogger(level string) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("%w: log level %q", ErrInvalidConfig, level)
		}
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	built, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &ZapLogger{l: built}, nil
}

// Debug logs a debug message.
func (z *ZapLogger) Debug(msg string, fields map[string]any) {
	if z == nil || z.l == nil {
		return
	}
	z.l.Debug(msg, zapFields(fields)...)
}

// Info logs an info message.
func (z *ZapLogger) Info(msg string, fields map[string]any) {
	if z == nil || z.l == nil {
		return
	}
	z.l.Info(msg, zapFields(fields)...)
}

// Error logs an error message.
func (z *ZapLogger) Error(msg string, fields map[string]any) {
	if z == nil || z.l == nil {
		return
	}
	z.l.Error(msg, zapFields(fields)...)
}

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() {
	if z == nil || z.l == nil {
		return
	}
	_ = z.l.Sync()
}

func zapFields(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, key := range keys {
		out = append(out, zap.Any(key, fields[key]))
	}
	return out
}

// StdLogger logs JSON lines to an io.Writer.
type StdLogger struct {
	l *log.Logger
}

// NewStdLogger constructs a StdLogger.
func NewStdLogger(w io.Writer) *StdLogger {
	return &StdLogger{l: log.New(w, "", log.LstdFlags)}
}

// Debug logs a debug message.
func (s *StdLogger) Debug(msg string, fields map[string]any) {
	s.log("debug", msg, fields)
}

// Info logs an info message.
func (s *StdLogger) Info(msg string, fields map[string]any) {
	s.log("info", msg, fields)
}

// Error logs an error message.
func (s *StdLogger) Error(msg string, fields map[string]any) {
	s.log("error", msg, fields)
}

func (s *StdLogger) log(level string, msg string, fields map[string]any) {
	if s == nil || s.l == nil {
		return
	}
	payload := map[string]any{
		"level": level,
		"msg":   msg,
	}
	for key, value := range fields {
		payload[key] = value
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.l.Println(msg)
		return
	}
	s.l.Println(string(data))
}
