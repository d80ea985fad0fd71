// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// L is the shared application logger. It defaults to a no-op logger so that
// packages can log before InitLogger runs (mainly in tests).
var L = zap.NewNop()

// InitLogger replaces the global logger with a production zap logger.
// It is called once from cmd.Execute before any command runs.
func InitLogger() {
	logger, err := New(false)
	if err != nil {
		// Nothing sensible to do without a logger; fall back to the nop one.
		return
	}
	L = logger
}

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}
