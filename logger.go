package modbus

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel defines the severity of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelNone // Disables logging
)

// String returns the level's string representation.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelNone:
		return "NONE"
	default:
		return fmt.Sprintf("LogLevel(%d)", int(l))
	}
}

// ParseLogLevel converts a string such as "DEBUG" to its LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARNING", "WARN":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "NONE":
		return LevelNone, nil
	default:
		return LevelNone, fmt.Errorf("invalid log level: %q", s)
	}
}

// SimpleLogger is a small leveled logger. A nil *SimpleLogger is valid and
// discards everything, so components can hold one without nil checks.
type SimpleLogger struct {
	mu         sync.Mutex
	level      LogLevel
	output     io.Writer
	timeFormat string
	prefix     string
}

// NewSimpleLogger creates a logger writing to output at the given level.
// If output is nil, it defaults to os.Stdout.
func NewSimpleLogger(output io.Writer, level LogLevel, prefix string) *SimpleLogger {
	if output == nil {
		output = os.Stdout
	}
	return &SimpleLogger{
		level:      level,
		output:     output,
		timeFormat: time.RFC3339,
		prefix:     prefix,
	}
}

// SetLevel sets the logging level.
func (l *SimpleLogger) SetLevel(level LogLevel) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Level returns the current logging level.
func (l *SimpleLogger) Level() LogLevel {
	if l == nil {
		return LevelNone
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// Debugf logs at debug level.
func (l *SimpleLogger) Debugf(format string, v ...interface{}) { l.logf(LevelDebug, format, v...) }

// Infof logs at info level.
func (l *SimpleLogger) Infof(format string, v ...interface{}) { l.logf(LevelInfo, format, v...) }

// Warnf logs at warning level.
func (l *SimpleLogger) Warnf(format string, v ...interface{}) { l.logf(LevelWarning, format, v...) }

// Errorf logs at error level.
func (l *SimpleLogger) Errorf(format string, v ...interface{}) { l.logf(LevelError, format, v...) }

func (l *SimpleLogger) logf(level LogLevel, format string, v ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level || l.level == LevelNone {
		return
	}
	timestamp := time.Now().Format(l.timeFormat)
	message := strings.TrimSpace(fmt.Sprintf(format, v...))
	if l.prefix != "" {
		fmt.Fprintf(l.output, "%s [%s] <%s> %s\n", timestamp, level, l.prefix, message)
	} else {
		fmt.Fprintf(l.output, "%s [%s] %s\n", timestamp, level, message)
	}
}

// Write implements io.Writer so the logger can back a log.Logger. Messages
// are emitted at info level.
func (l *SimpleLogger) Write(p []byte) (int, error) {
	l.Infof("%s", p)
	return len(p), nil
}
