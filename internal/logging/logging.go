// Package logging builds the process zap logger and holds the field names
// every pipeline stage logs with.
package logging

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field keys shared by every stage line.
const (
	KeyStage      = "stage"
	KeyCollection = "collection"
	KeyTable      = "table"
	KeyBatch      = "batch"
	KeyRows       = "rows"
	KeyDuration   = "duration"
	KeyKey        = "key"
)

// New returns a json (production) or console (development) logger at level.
// Empty level means info; empty format means json.
func New(level, format string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if strings.TrimSpace(level) != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return nil, fmt.Errorf("logging: level %q: %w", level, err)
		}
	}

	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("logging: unknown format %q (want json|console)", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = lvl > zapcore.DebugLevel

	return cfg.Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Stage returns a child logger tagged with the stage name.
func Stage(l *zap.Logger, stage string) *zap.Logger {
	return OrNop(l).With(zap.String(KeyStage, stage))
}

// Since is the duration field for a stage started at start.
func Since(start time.Time) zap.Field {
	return zap.Duration(KeyDuration, time.Since(start))
}
