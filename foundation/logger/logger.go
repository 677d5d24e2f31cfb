// Package logger provides a convenience function to constructing a logger
// for use.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs a Sugared Logger that writes to stdout and provides human
// readable timestamps.
func New(service string, outputPaths ...string) (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	if outputPaths != nil {
		config.OutputPaths = outputPaths
	}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true
	config.InitialFields = map[string]any{
		"service": service,
	}

	log, err := config.Build(zap.WithCaller(true))
	if err != nil {
		return nil, err
	}

	return log.Sugar(), nil
}

// NewNop returns a logger that discards everything. Useful in tests.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// =============================================================================

// Sync flushes the logger ignoring the error stdout returns on some
// platforms.
func Sync(log *zap.SugaredLogger) {
	if err := log.Sync(); err != nil && !os.IsNotExist(err) {
		return
	}
}
