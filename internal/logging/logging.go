// Package logging owns the process-wide zap logger.
package logging

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects level, encoding and sinks.
type Config struct {
	Level       string   `yaml:"level" json:"level"`
	Development bool     `yaml:"development" json:"development"`
	Encoding    string   `yaml:"encoding" json:"encoding"` // json or console
	OutputPaths []string `yaml:"output_paths" json:"output_paths"`
}

type ctxKey struct{}

var (
	mu     sync.RWMutex
	global *zap.Logger
)

// New builds a logger from cfg without installing it.
func New(cfg Config) (*zap.Logger, error) {
	lvl := cfg.Level
	if lvl == "" {
		lvl = "info"
	}
	level, err := zapcore.ParseLevel(lvl)
	if err != nil {
		return nil, fmt.Errorf("logging: invalid level %q: %w", cfg.Level, err)
	}
	enc := cfg.Encoding
	if enc == "" {
		enc = "json"
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if cfg.Development && enc == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	out := cfg.OutputPaths
	if len(out) == 0 {
		out = []string{"stderr"}
	}

	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         enc,
		EncoderConfig:    encoderConfig,
		OutputPaths:      out,
		ErrorOutputPaths: []string{"stderr"},
	}
	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build: %w", err)
	}
	return l, nil
}

// Init builds a logger from cfg and installs it globally.
func Init(cfg Config) (*zap.Logger, error) {
	l, err := New(cfg)
	if err != nil {
		return nil, err
	}
	Set(l)
	return l, nil
}

// Set installs l globally. A nil l is ignored.
func Set(l *zap.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	global = l
	mu.Unlock()
}

// Get returns the global logger, or a no-op logger when none was installed.
func Get() *zap.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Named returns a child of the global logger.
func Named(name string) *zap.Logger { return Get().Named(name) }

// WithJob tags the context with a job name picked up by FromContext.
func WithJob(ctx context.Context, job string) context.Context {
	return context.WithValue(ctx, ctxKey{}, job)
}

// FromContext returns l (or the global logger) with the context's job field.
func FromContext(ctx context.Context, l *zap.Logger) *zap.Logger {
	if l == nil {
		l = Get()
	}
	if job, ok := ctx.Value(ctxKey{}).(string); ok && job != "" {
		return l.With(zap.String("job", job))
	}
	return l
}

// Sync flushes the global logger, ignoring the errors stderr/stdout return
// on some platforms.
func Sync() {
	_ = Get().Sync()
}
