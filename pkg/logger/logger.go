package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is an interface for logging
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
	Sync() error
}

// ZapLogger is a concrete implementation using zap's sugared logger
type ZapLogger struct {
	logger *zap.SugaredLogger
}

// NewLogger creates a new logger instance. Production gets JSON output at
// the configured level, everything else a console encoder at debug.
func NewLogger(env, level string) Logger {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	base, err := cfg.Build()
	if err != nil {
		base = zap.NewExample()
	}

	return &ZapLogger{
		logger: base.Sugar(),
	}
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return &ZapLogger{logger: zap.NewNop().Sugar()}
}

func parseLevel(level string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func (l *ZapLogger) Info(msg string, args ...any) {
	l.logger.Infow(msg, args...)
}

func (l *ZapLogger) Error(msg string, args ...any) {
	l.logger.Errorw(msg, args...)
}

func (l *ZapLogger) Debug(msg string, args ...any) {
	l.logger.Debugw(msg, args...)
}

func (l *ZapLogger) Warn(msg string, args ...any) {
	l.logger.Warnw(msg, args...)
}

func (l *ZapLogger) With(args ...any) Logger {
	return &ZapLogger{logger: l.logger.With(args...)}
}

func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}
