// Package logger provides the leveled logger shared by the pipeline, the CLI and
// the REST service.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogError
)

var logLevelPrefix = map[LogLevel]string{
	LogDebug: "DEBUG",
	LogInfo:  "INFO",
	LogError: "ERROR",
}

// ILogger is what every component logs through
type ILogger interface {
	Printf(level LogLevel, format string, a ...interface{})
	Debugf(format string, a ...interface{})
	Infof(format string, a ...interface{})
	Errorf(format string, a ...interface{})
}

// ParseLevel accepts debug, info or error
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(name) {
	case "debug":
		return LogDebug, nil
	case "info", "":
		return LogInfo, nil
	case "error":
		return LogError, nil
	}
	return LogInfo, fmt.Errorf("unknown log level %q", name)
}

// WriterLogger writes prefixed lines to any writer
type WriterLogger struct {
	logLevel LogLevel
	out      *log.Logger
}

// NewWriterLogger logs at or above level to w
func NewWriterLogger(w io.Writer, level LogLevel) *WriterLogger {
	return &WriterLogger{logLevel: level, out: log.New(w, "", log.LstdFlags)}
}

// NewStdOutLogger logs to stdout
func NewStdOutLogger(level LogLevel) *WriterLogger {
	return NewWriterLogger(os.Stdout, level)
}

// NewStdErrLogger logs to stderr
func NewStdErrLogger(level LogLevel) *WriterLogger {
	return NewWriterLogger(os.Stderr, level)
}

func (l *WriterLogger) Printf(level LogLevel, format string, a ...interface{}) {
	l.out.Println(logLevelPrefix[level] + ": " + fmt.Sprintf(format, a...))
}

func (l *WriterLogger) Debugf(format string, a ...interface{}) {
	if l.logLevel <= LogDebug {
		l.Printf(LogDebug, format, a...)
	}
}

func (l *WriterLogger) Infof(format string, a ...interface{}) {
	if l.logLevel <= LogInfo {
		l.Printf(LogInfo, format, a...)
	}
}

func (l *WriterLogger) Errorf(format string, a ...interface{}) {
	l.Printf(LogError, format, a...)
}

// NullLogger - For mocking out in tests
type NullLogger struct {
}

func (l *NullLogger) Printf(level LogLevel, format string, a ...interface{}) {}
func (l *NullLogger) Debugf(format string, a ...interface{})                 {}
func (l *NullLogger) Infof(format string, a ...interface{})                  {}
func (l *NullLogger) Errorf(format string, a ...interface{})                 {}

// OrNull returns l, or a NullLogger when l is nil
func OrNull(l ILogger) ILogger {
	if l == nil {
		return &NullLogger{}
	}
	return l
}
