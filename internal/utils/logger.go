// internal/utils/logger.go
package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
	FATAL
)

// Logger is a structured logger backed by logrus
type Logger struct {
	mu    sync.Mutex
	file  *os.File
	entry *logrus.Logger
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		base := logrus.New()
		base.SetOutput(os.Stdout)
		base.SetLevel(logrus.InfoLevel)
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
		globalLogger = &Logger{entry: base}
	})
	return globalLogger
}

// NewLogger creates a standalone logger writing to w (used by tests and the CLI)
func NewLogger(w io.Writer, level LogLevel) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(toLogrusLevel(level))
	base.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	return &Logger{entry: base}
}

// InitLogger initializes the logger with a log file
func InitLogger(logFile string) error {
	logger := GetLogger()

	// Ensure log directory exists
	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if logger.file != nil {
		logger.file.Close()
	}

	logger.file = file
	logger.entry.SetOutput(io.MultiWriter(os.Stdout, file))
	return nil
}

// Close releases the log file if one is open
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.entry.SetOutput(os.Stdout)
	return err
}

// SetLogLevel sets the minimum level for logging
func (l *Logger) SetLogLevel(level LogLevel) {
	l.entry.SetLevel(toLogrusLevel(level))
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case DEBUG:
		return logrus.DebugLevel
	case WARNING:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	case FATAL:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

func (l *Logger) with(fields map[string]interface{}) *logrus.Entry {
	return l.entry.WithFields(logrus.Fields(fields))
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.with(fields).Debug(message)
}

// Info logs an info message
func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.with(fields).Info(message)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.with(fields).Warn(message)
}

// Error logs an error message
func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.with(fields).Error(message)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields map[string]interface{}) {
	l.with(fields).Fatal(message)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.entry.Fatalf(format, args...)
}
