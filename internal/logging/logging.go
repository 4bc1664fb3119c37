// Package logging configures the process-wide zap logger used by the fetch
// command, and bridges it to log/slog for the library packages.
package logging

import (
	"log/slog"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

var (
	mu           sync.Mutex
	globalLogger *zap.Logger
	globalLevel  = zap.NewAtomicLevelAt(zapcore.WarnLevel)
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or file path
}

// Init initializes the global logger. An unknown level falls back to warn.
func Init(cfg Config) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.WarnLevel
	}

	var config zap.Config
	if cfg.Format == "json" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.DisableStacktrace = true
	}

	globalLevel.SetLevel(level)
	config.Level = globalLevel
	output := cfg.OutputPath
	if output == "" {
		output = "stderr"
	}
	config.OutputPaths = []string{output}
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	globalLogger = logger
	mu.Unlock()
	return nil
}

// SetLevel changes the global log level at runtime.
func SetLevel(level string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return
	}
	globalLevel.SetLevel(l)
}

// L returns the global logger, a no-op logger until Init is called.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if globalLogger == nil {
		return zap.NewNop()
	}
	return globalLogger
}

// S returns the global sugared logger.
func S() *zap.SugaredLogger {
	return L().Sugar()
}

// Slog returns a log/slog logger writing to the global zap core.
func Slog() *slog.Logger {
	return slog.New(zapslog.NewHandler(L().Core()))
}

// Sync flushes any buffered log entries.
func Sync() error {
	return L().Sync()
}
