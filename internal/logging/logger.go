package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Logger provides structured logging for the worker
type Logger struct {
	prefix string
	logger *log.Logger
	debug  bool
}

// NewLogger creates a new logger with a prefix
func NewLogger(prefix string) *Logger {
	return NewLoggerTo(os.Stdout, prefix)
}

// NewLoggerTo creates a prefixed logger writing to w.
// Debug output is enabled when LOG_LEVEL=debug.
func NewLoggerTo(w io.Writer, prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		logger: log.New(w, fmt.Sprintf("[%s] ", prefix), log.LstdFlags),
		debug:  strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug"),
	}
}

// With returns a child logger whose prefix is extended with name
func (l *Logger) With(name string) *Logger {
	child := NewLoggerTo(l.logger.Writer(), l.prefix+"/"+name)
	child.debug = l.debug
	return child
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logWithKV("INFO", msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.logWithKV("WARN", msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.logWithKV("ERROR", msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	if !l.debug {
		return
	}
	l.logWithKV("DEBUG", msg, keysAndValues...)
}

func (l *Logger) logWithKV(level, msg string, keysAndValues ...interface{}) {
	var kv strings.Builder
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			fmt.Fprintf(&kv, " %v=%v", keysAndValues[i], keysAndValues[i+1])
		}
	}
	l.logger.Printf("[%s] %s%s", level, msg, kv.String())
}
