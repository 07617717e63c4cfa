package minisftp

import (
	"io"
	"log"
	"os"
)

// Logger receives protocol diagnostics. Implementations must be safe to
// call from the goroutine driving a session.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// StdLogger writes through the standard log package with level prefixes.
// Debug output is dropped unless Verbose is set.
type StdLogger struct {
	Verbose bool
	l       *log.Logger
}

// NewStdLogger returns a logger writing to w. A nil w means stderr.
func NewStdLogger(w io.Writer, verbose bool) *StdLogger {
	if w == nil {
		w = os.Stderr
	}
	return &StdLogger{Verbose: verbose, l: log.New(w, "", log.LstdFlags)}
}

func (s *StdLogger) Debugf(format string, args ...interface{}) {
	if s.Verbose {
		s.l.Printf("[DEBUG] "+format, args...)
	}
}

func (s *StdLogger) Infof(format string, args ...interface{}) {
	s.l.Printf("[INFO] "+format, args...)
}

func (s *StdLogger) Warnf(format string, args ...interface{}) {
	s.l.Printf("[WARN] "+format, args...)
}

func (s *StdLogger) Errorf(format string, args ...interface{}) {
	s.l.Printf("[ERROR] "+format, args...)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...interface{}) {}
func (NopLogger) Infof(string, ...interface{})  {}
func (NopLogger) Warnf(string, ...interface{})  {}
func (NopLogger) Errorf(string, ...interface{}) {}

var defaultLogger Logger = NewStdLogger(nil, false)

func loggerOrDefault(l Logger) Logger {
	if l == nil {
		return defaultLogger
	}
	return l
}
