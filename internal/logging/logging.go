// Package logging provides the shared zap logger construction used across
// all ragindex binaries, matching document-chunker/main.go's
// zap.NewProduction() usage.
package logging

import (
	"os"

	"go.uber.org/zap"
)

// New builds a production zap logger tagged with the service name, falling
// back to a no-op logger if construction fails (should not happen outside
// exotic sandboxes, but a logging failure must never crash a pipeline).
func New(service string) *zap.Logger {
	logger, err := zap.NewProduction(zap.Fields(zap.String("service", service)))
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// NewDevelopment is used by tests and local `go run` invocations for
// human-readable console output.
func NewDevelopment(service string) *zap.Logger {
	logger, err := zap.NewDevelopment(zap.Fields(zap.String("service", service)))
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// FromEnv picks development-mode logging when RAGINDEX_ENV=dev, production
// otherwise.
func FromEnv(service string) *zap.Logger {
	if os.Getenv("RAGINDEX_ENV") == "dev" {
		return NewDevelopment(service)
	}
	return New(service)
}
