// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base = newBase(os.Stderr)
)

func newBase(w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		if parsed, err := zerolog.ParseLevel(env); err == nil {
			level = parsed
		}
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).
		Level(level).
		With().
		Timestamp().
		Str("service", "postexperiment").
		Logger()
}

// Logf is the package-level diagnostic logger. It writes info-level entries
// through zerolog but may be replaced by SetLogger. Tests or production code
// can redirect or mute it.
var Logf func(format string, v ...interface{}) = defaultLogf

func defaultLogf(format string, v ...interface{}) {
	mu.RLock()
	l := base
	mu.RUnlock()
	l.Info().Msgf(format, v...)
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetOutput redirects the default zerolog-backed logger and restores Logf to it.
func SetOutput(w io.Writer) {
	mu.Lock()
	base = newBase(w)
	mu.Unlock()
	Logf = defaultLogf
}

// WithComponent returns a structured child logger annotated with a component name.
func WithComponent(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With().Str("component", component).Logger()
}
