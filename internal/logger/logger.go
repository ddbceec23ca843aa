// Package logger builds the structured loggers used across the compiler.
// Loggers are returned to the caller and injected where needed; there is no
// package-level instance.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger. Format is "json" for structured production logs or
// "human" for colored development output. All logging goes to stderr because
// stdout is reserved for command output and event streams.
func New(debug bool, format string) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l.Sugar(), nil
}

// Nop returns a logger that discards everything. Library entry points use it
// when the caller does not provide one.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
