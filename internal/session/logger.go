package session

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger is a thin wrapper over the standard library's log.Logger: a
// verbosity gate plus one-line entries to stderr or the --log-file
// destination.
type Logger struct {
	verbose bool
	out     *log.Logger
}

// NewLogger creates a Logger writing to w (os.Stderr by default) with the
// "[sbt] " prefix, gated by verbose.
func NewLogger(w io.Writer, verbose bool) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{verbose: verbose, out: log.New(w, "[sbt] ", 0)}
}

// Verbosef logs a diagnostic line only when verbose mode is enabled.
func (l *Logger) Verbosef(component, format string, args ...interface{}) {
	if l == nil || !l.verbose {
		return
	}
	l.out.Printf("%s: %s", component, fmt.Sprintf(format, args...))
}

// Infof always logs a diagnostic line regardless of verbosity.
func (l *Logger) Infof(component, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.out.Printf("%s: %s", component, fmt.Sprintf(format, args...))
}
