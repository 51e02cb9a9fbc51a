// Package logging provides the leveled, structured logger used by tenancy
// services. Call sites pass alternating key/value pairs.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap sugared logger.
type Logger struct {
	sugared *zap.SugaredLogger
}

// New builds a logger for mode. "prod" and "production" select JSON output at
// info level; anything else selects console output at debug level.
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	zapLogger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &Logger{sugared: zapLogger.Sugar()}, nil
}

// NewFromCore builds a logger on an existing zap core.
func NewFromCore(core zapcore.Core) *Logger {
	return &Logger{sugared: zap.New(core).Sugar()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{sugared: zap.NewNop().Sugar()}
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	_ = l.sugared.Sync()
}

func (l *Logger) Debug(msg string, keysAndValues ...any) {
	l.sugared.Debugw(msg, redact(keysAndValues)...)
}

func (l *Logger) Info(msg string, keysAndValues ...any) {
	l.sugared.Infow(msg, redact(keysAndValues)...)
}

func (l *Logger) Warn(msg string, keysAndValues ...any) {
	l.sugared.Warnw(msg, redact(keysAndValues)...)
}

func (l *Logger) Error(msg string, keysAndValues ...any) {
	l.sugared.Errorw(msg, redact(keysAndValues)...)
}

// With returns a child logger that adds keysAndValues to every entry.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{sugared: l.sugared.With(redact(keysAndValues)...)}
}

// redact masks values whose key names a credential.
func redact(kv []any) []any {
	if len(kv) == 0 {
		return kv
	}
	out := make([]any, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		if i == len(kv)-1 {
			out = append(out, kv[i])
			break
		}
		key, _ := kv[i].(string)
		if isSecretKey(strings.ToLower(key)) {
			out = append(out, kv[i], "[REDACTED]")
			continue
		}
		out = append(out, kv[i], kv[i+1])
	}
	return out
}

func isSecretKey(key string) bool {
	switch {
	case strings.Contains(key, "password"),
		strings.Contains(key, "secret"),
		strings.Contains(key, "hmac_key"),
		strings.Contains(key, "token"):
		return true
	default:
		return false
	}
}
