// Package logging builds the CLI's zap logger and exposes it to the k17
// library as a *slog.Logger.
//
// Logging is silent unless a level is given on the command line or in the
// K17_LOG_LEVEL environment variable. Output goes to stderr so it never
// mixes with command output.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// LogLevelEnvVar is the environment variable that controls logging verbosity.
// Valid values: "debug", "info", "warn", "error"
const LogLevelEnvVar = "K17_LOG_LEVEL"

var logger = zap.NewNop()

// Initialize creates the global logger with the given level. An empty level
// falls back to K17_LOG_LEVEL; if that is empty too, logging stays silent.
func Initialize(level string) error {
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}
	if level == "" {
		logger = zap.NewNop()
		return nil
	}

	zapLevel, err := ParseLevel(level)
	if err != nil {
		return err
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	built, err := config.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger = built
	return nil
}

// ParseLevel maps a level name onto a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// GetLogger returns the global logger instance.
func GetLogger() *zap.Logger {
	return logger
}

// Slog returns a *slog.Logger that writes through the global zap core, or
// nil when logging is disabled so the client skips log calls entirely.
func Slog() *slog.Logger {
	return newSlog(logger)
}

func newSlog(l *zap.Logger) *slog.Logger {
	core := l.Core()
	if !core.Enabled(zapcore.FatalLevel) {
		return nil
	}
	return slog.New(zapslog.NewHandler(core))
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = logger.Sync()
}
