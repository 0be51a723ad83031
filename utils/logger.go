package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

// Logger provides leveled logging for every pipeline component.
type Logger struct {
	info  *log.Logger
	warn  *log.Logger
	err   *log.Logger
	debug *log.Logger
	quiet bool

	debugOn bool
}

// NewLogger creates a Logger writing info/warn/debug to stdout and errors to stderr.
// Debug output is off until SetDebug(true).
func NewLogger() *Logger {
	return &Logger{
		info:  log.New(os.Stdout, "", 0),
		warn:  log.New(os.Stdout, "", 0),
		err:   log.New(os.Stderr, "", 0),
		debug: log.New(os.Stdout, "", 0),
	}
}

// NewLoggerTo sends every level to w.
func NewLoggerTo(w io.Writer) *Logger {
	l := log.New(w, "", 0)
	return &Logger{info: l, warn: l, err: l, debug: l, debugOn: true}
}

// NewNopLogger discards everything. Used by tests.
func NewNopLogger() *Logger {
	l := NewLoggerTo(io.Discard)
	l.quiet = true
	return l
}

func (l *Logger) SetDebug(on bool) { l.debugOn = on }

func (l *Logger) timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

func (l *Logger) Info(format string, args ...any) {
	l.write(l.info, "\033[32mINFO\033[0m ", format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.write(l.warn, "\033[33mWARN\033[0m ", format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.write(l.err, "\033[31mERROR\033[0m", format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	if !l.debugOn {
		return
	}
	l.write(l.debug, "\033[36mDEBUG\033[0m", format, args...)
}

func (l *Logger) write(dst *log.Logger, level, format string, args ...any) {
	if l.quiet {
		return
	}
	dst.Printf("[%s] %s %s\n", l.timestamp(), level, fmt.Sprintf(format, args...))
}
