// Package logger provides the application logger.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the level and encoding of the logger.
type Config struct {
	Level        string // debug, info, warn, error
	Format       string // json or console
	DateFormat   string // time layout for log timestamps
	Highlighting bool   // colorize console levels
	Service      string
}

// New constructs a Sugared Logger that writes to stdout and provides
// human-readable timestamps.
func New(cfg Config) (*zap.SugaredLogger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = zap.NewAtomicLevelAt(parsed)
	}

	config := zap.NewProductionConfig()
	config.Level = level
	config.OutputPaths = []string{"stdout"}
	config.DisableStacktrace = true
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.InitialFields = map[string]any{"service": cfg.Service}

	if cfg.DateFormat != "" {
		config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(cfg.DateFormat)
	}

	if cfg.Format == "console" {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		if cfg.Highlighting {
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
	}

	log, err := config.Build(zap.WithCaller(true))
	if err != nil {
		return nil, err
	}

	return log.Sugar(), nil
}
