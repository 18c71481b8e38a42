// Package botlog provides the structured logger used across every
// package: a thin wrapper over zap.SugaredLogger that carries permanent
// per-pair identity fields, generalizing the teacher's convention of
// prefixing every log line with bot identity (e.g. "[BOOT]", "[EQUITY]")
// into structured fields instead of string tags.
package botlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.SugaredLogger. Zero value is not usable; use New.
type Logger struct {
	s *zap.SugaredLogger
}

// New builds a Logger at the given level ("debug", "info", "warn",
// "error"; unrecognized values fall back to "info"), writing JSON lines
// to stderr (zap's production output path).
func New(level string) (*Logger, error) {
	lvl := zapcore.InfoLevel
	_ = lvl.UnmarshalText([]byte(level))

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{s: l.Sugar()}, nil
}

// With returns a child Logger carrying the given permanent key/value
// pairs on every subsequent line, e.g. With("pair", pairID, "leader", addr).
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{s: l.s.With(kv...)}
}

func (l *Logger) Debugw(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l *Logger) Infow(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l *Logger) Warnw(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l *Logger) Errorw(msg string, kv ...any) { l.s.Errorw(msg, kv...) }

// Sync flushes any buffered log entries, called once at process shutdown.
func (l *Logger) Sync() error { return l.s.Sync() }
