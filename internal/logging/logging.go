// Package logging wraps zap with the small set of categories this server
// emits under.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Categories used across the server. Kept as an enum of strings rather than
// a typed Category (the teacher's internal/logging.Category) because there
// is no file-per-category fanout here; the category is just a zap field.
const (
	Session  = "session"
	Dispatch = "dispatch"
	Capture  = "capture"
	Vision   = "vision"
	Render   = "render"
	HTTP     = "http"
)

// Init builds the base *zap.Logger for the process. debug raises the level
// to Debug, mirroring cmd/nerd's --verbose handling.
func Init(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build zap logger: %w", err)
	}
	return logger, nil
}

// For returns a child logger with category pre-bound as a field.
func For(base *zap.Logger, category string) *zap.Logger {
	return base.With(zap.String("category", category))
}
