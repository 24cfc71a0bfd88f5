package utils

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger provides leveled, printf-style logging throughout the application.
type Logger struct {
	entry *logrus.Logger
}

// NewLogger creates a Logger writing to stdout. The level is taken from
// LOG_LEVEL and defaults to info.
func NewLogger() *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))
	if levelStr == "" {
		levelStr = "info"
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		l.Warnf("Invalid LOG_LEVEL '%s', defaulting to INFO", levelStr)
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	return &Logger{entry: l}
}

// NewNopLogger returns a Logger that discards everything. Used by tests.
func NewNopLogger() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{entry: l}
}

// SetOutput redirects log output.
func (l *Logger) SetOutput(w io.Writer) {
	l.entry.SetOutput(w)
}

func (l *Logger) Info(format string, args ...any) {
	l.entry.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.entry.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.entry.Errorf(format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	l.entry.Debugf(format, args...)
}

// Printf lets the logger stand in wherever a Printf-style sink is expected
// (cron.PrintfLogger).
func (l *Logger) Printf(format string, args ...any) {
	l.entry.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
