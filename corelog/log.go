// Package corelog is the single place this module configures structured
// logging. The teacher TUI wrote plain lines with the standard "log"
// package to a debug file; that's fine for a terminal app but this module
// is a library meant to be embedded under a GTK shell, a test harness, or a
// headless agent, so it speaks zerolog instead: one logger per component,
// fields instead of string interpolation, secrets never attached as fields.
package corelog

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu      sync.Mutex
	base    = zerolog.New(io.Discard).With().Timestamp().Logger()
	enabled = false
)

// Configure points the base logger at w (e.g. a debug file) or, if w is
// nil, discards all output. Mirrors the teacher's -debug flag: logging is
// silent by default and only turned on explicitly.
func Configure(w io.Writer, level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		base = zerolog.New(io.Discard)
		enabled = false
		return
	}
	base = zerolog.New(w).Level(level).With().Timestamp().Logger()
	enabled = true
}

// ConfigureFile opens path for append and configures logging to it,
// matching the teacher's tea.LogToFile("debug.log", ...) behavior.
func ConfigureFile(path string, level zerolog.Level) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	Configure(f, level)
	return f, nil
}

// Enabled reports whether logging output is currently wired to a sink.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// For returns a component-scoped logger, e.g. corelog.For("session").
func For(component string) zerolog.Logger {
	mu.Lock()
	l := base
	mu.Unlock()
	return l.With().Str("component", component).Logger()
}
