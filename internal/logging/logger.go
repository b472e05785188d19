// Package logging builds the charmbracelet loggers handed to translation
// sessions. Configuration comes from the environment:
//
//	REIL_LOG_LEVEL    debug, info, warn, error (default: info)
//	REIL_LOG_PREFIX   prefix for log messages (default: "reil ")
//	REIL_LOG_TO_FILE  when "1", log to a timestamped file instead of stderr
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// LoggerCloser wraps a logger and provides a Close method for cleanup
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

// Close closes the underlying writer if it's closeable
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// Level maps a level name to a log level, defaulting to info.
func Level(name string) log.Level {
	switch name {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	}
	return log.InfoLevel
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Level:           Level(os.Getenv("REIL_LOG_LEVEL")),
	})

	prefix := os.Getenv("REIL_LOG_PREFIX")
	if prefix == "" {
		prefix = "reil "
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr {
		closer = c
	}

	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}
}

// NewLogger creates a logger configured from the environment.
func NewLogger() *LoggerCloser {
	output := io.Writer(os.Stderr)

	if os.Getenv("REIL_LOG_TO_FILE") == "1" {
		logFile := fmt.Sprintf("reil-%s-debug.log", time.Now().Format("20060102-150405"))
		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err == nil {
			output = f
		}
		// If file creation fails, fall back to stderr
	}

	return NewLoggerWithWriter(output)
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return os.Getenv("REIL_LOG_LEVEL") == "debug"
}
