// Package logging builds the process-wide structured logger. Every service
// constructor takes a *zap.Logger the way every other package's constructors take a
// *sql.DB — one instance, built once in main, threaded down.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger for the given level string ("debug", "info",
// "warn", "error") and environment. In development it uses the console
// encoder for readability; in production it emits JSON to stdout so log
// shippers can parse it.
func New(level, environment string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// Must builds a logger or falls back to zap's no-op logger plus a message
// on stderr, for callers (like CLI main functions) that cannot propagate an
// error before logging exists.
func Must(level, environment string) *zap.Logger {
	logger, err := New(level, environment)
	if err != nil {
		os.Stderr.WriteString("logging: falling back to nop logger: " + err.Error() + "\n")
		return zap.NewNop()
	}
	return logger
}
