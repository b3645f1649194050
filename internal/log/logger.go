// Package log provides the structured logging nah's ingestion and
// registry paths write through. It is shaped around what those call
// sites need: leveled slog output, per-package identity context, and
// rendering of the warning records manifests and compositions produce.
// The composer never logs; it is pure and reports through its result.
//
// Verbosity levels:
//   - ERROR (--quiet): errors only
//   - WARN (default): warnings and user output
//   - INFO (--verbose): operational context
//   - DEBUG (--debug): internal state and troubleshooting details
package log

import (
	"io"
	"log/slog"
	"sync"

	"github.com/nah-dev/nah/internal/manifest"
)

// Logger wraps slog with nah's logging conventions.
type Logger struct {
	s *slog.Logger
}

// New creates a Logger backed by slog with the given handler.
func New(h slog.Handler) *Logger {
	return &Logger{s: slog.New(h)}
}

// Noop returns a logger that discards all output. Constructors take it
// as the fallback when callers pass nil.
func Noop() *Logger {
	return &Logger{s: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Debug logs internal state: staging paths, digest values, resolution
// candidates.
func (l *Logger) Debug(msg string, args ...any) { l.s.Debug(msg, args...) }

// Info logs operational context like "extracting package" or "record
// written".
func (l *Logger) Info(msg string, args ...any) { l.s.Info(msg, args...) }

// Warn logs recoverable anomalies like a deprecated legacy host filename.
func (l *Logger) Warn(msg string, args ...any) { l.s.Warn(msg, args...) }

// Error logs failures that prevent the operation from completing.
func (l *Logger) Error(msg string, args ...any) { l.s.Error(msg, args...) }

// ForPackage returns a logger that stamps every entry with the package
// it concerns. kind is "app", "nak", or "input" (for compose inputs).
func (l *Logger) ForPackage(kind, id, version string) *Logger {
	return &Logger{s: l.s.With(kind, id+"@"+version)}
}

// Warnings emits one WARN entry per recoverable anomaly, with the
// warning kind as a structured attribute. Ingestion and nak compose pass
// their manifest-parse warnings through here; host-read and composition
// warnings are returned in results instead.
func (l *Logger) Warnings(warnings []manifest.Warning) {
	for _, w := range warnings {
		l.s.Warn(w.Message, "kind", w.Kind)
	}
}

var (
	defaultLogger = Noop()
	defaultMu     sync.RWMutex
)

// Default returns the global logger configured at startup.
// Returns a noop logger if SetDefault has not been called.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault sets the global logger. Called from the root command's
// PersistentPreRun after parsing verbosity flags.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}
