package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the global logger instance
	Logger *zap.Logger
)

// DefaultLevel is used when no level is configured. Progress is printed to
// the console separately, so diagnostics stay quiet unless something is wrong.
const DefaultLevel = "warn"

// Initialize sets up the logger with the specified log level.
// Diagnostics always go to stderr so they never interleave with prompts.
func Initialize(level string) error {
	if level == "" {
		level = DefaultLevel
	}

	var config zap.Config
	if level == "debug" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
		config.Sampling = nil
	}
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	built, err := config.Build()
	if err != nil {
		return err
	}
	Logger = built
	zap.ReplaceGlobals(Logger)

	return nil
}

// Sync flushes any buffered log entries
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// ForRepo returns a logger carrying the account and repository fields.
func ForRepo(account, repo string) *zap.Logger {
	return get().With(zap.String("account", account), zap.String("repo", repo))
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	get().Debug(msg, fields...)
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	get().Info(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	get().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	get().Error(msg, fields...)
}

// get falls back to a no-op logger so packages can log before Initialize
// has run, which is the normal case in unit tests.
func get() *zap.Logger {
	if Logger == nil {
		return zap.NewNop()
	}
	return Logger
}
