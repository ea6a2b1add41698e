// Package logging wraps zap behind a small interface so subsystems do not
// depend on the concrete logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Sync() error
}

type zapLogger struct {
	l *zap.Logger
}

// New builds a JSON zap logger at the given level. When file is non-empty the
// logger also writes there; that file is what the log pusher ships upstream.
func New(level, file string) (Logger, error) {
	var lvl zapcore.Level
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "info":
		lvl = zapcore.InfoLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	outputs := []string{"stdout"}
	if file != "" {
		outputs = append(outputs, file)
	}
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{l: l}, nil
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() Logger { return &zapLogger{l: zap.NewNop()} }

func (z *zapLogger) Debugf(format string, args ...any) { z.l.Debug(fmt.Sprintf(format, args...)) }
func (z *zapLogger) Infof(format string, args ...any)  { z.l.Info(fmt.Sprintf(format, args...)) }
func (z *zapLogger) Warnf(format string, args ...any)  { z.l.Warn(fmt.Sprintf(format, args...)) }
func (z *zapLogger) Errorf(format string, args ...any) { z.l.Error(fmt.Sprintf(format, args...)) }
func (z *zapLogger) Sync() error                       { return z.l.Sync() }
