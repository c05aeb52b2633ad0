// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package logging builds the zap loggers used by the CLI and the runner.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Formats accepted by New.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// New returns a logger writing to stderr. format is "text" or "json";
// level is debug, info, warn, error or none.
func New(format, level string) (*zap.Logger, error) {
	if level == "none" {
		return zap.NewNop(), nil
	}

	var lvl zapcore.Level
	switch level {
	case "debug":
		lvl = zap.DebugLevel
	case "info", "":
		lvl = zap.InfoLevel
	case "warn":
		lvl = zap.WarnLevel
	case "error":
		lvl = zap.ErrorLevel
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true

	switch format {
	case FormatText, "":
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	case FormatJSON:
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}

	return cfg.Build()
}
