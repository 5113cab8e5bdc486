package util

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	defaultLogger *zap.Logger
	logLevel      = zap.NewAtomicLevelAt(zap.InfoLevel)
	once          sync.Once
)

// Logger returns the process-wide logger, building a stderr-only one on
// first use if InitLogger was never called.
func Logger() *zap.Logger {
	once.Do(func() {
		defaultLogger = NewLogger(zap.InfoLevel, "")
	})
	return defaultLogger
}

// NewLogger creates a console logger on stderr, teed to filePath when set.
// A log file that cannot be opened is skipped.
func NewLogger(level zapcore.Level, filePath string) *zap.Logger {
	logLevel.SetLevel(level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), logLevel),
	}

	if filePath != "" {
		if err := EnsureDir(filepath.Dir(filePath)); err == nil {
			file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err == nil {
				cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), logLevel))
			}
		}
	}

	return zap.New(zapcore.NewTee(cores...))
}

// SetLevel changes the level of the default logger.
func SetLevel(level string) {
	logLevel.SetLevel(ParseLevel(level))
}

// ParseLevel parses a string log level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Debug logs a debug message using the default logger.
func Debug(format string, args ...interface{}) {
	Logger().Sugar().Debugf(format, args...)
}

// Info logs an info message using the default logger.
func Info(format string, args ...interface{}) {
	Logger().Sugar().Infof(format, args...)
}

// Warn logs a warning message using the default logger.
func Warn(format string, args ...interface{}) {
	Logger().Sugar().Warnf(format, args...)
}

// Error logs an error message using the default logger.
func Error(format string, args ...interface{}) {
	Logger().Sugar().Errorf(format, args...)
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Logger().Sync()
}

// InitLogger initializes the default logger with config.
func InitLogger(level string, filePath string) {
	once.Do(func() {
		defaultLogger = NewLogger(ParseLevel(level), filePath)
	})
}
