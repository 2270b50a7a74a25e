// Package corelog is the thin structured-logging wrapper the rest of
// this module calls into. Defaults to a disabled logger so the core is
// silent unless an embedder opts in: poller failures, iocb panics and
// per-connection I/O failures get logged, never the hot CAS paths.
package corelog

import (
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var logger atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	logger.Store(&l)
}

// SetLogger installs l as the process-wide logger. Passing a logger
// with a level of zerolog.Disabled silences output again.
func SetLogger(l zerolog.Logger) {
	logger.Store(&l)
}

// NewDefault returns a console-friendly logger at the given level,
// suitable for passing to SetLogger from a demo binary or CLI.
func NewDefault(level zerolog.Level) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

func current() *zerolog.Logger { return logger.Load() }

// Warn logs a transient condition: backend fallback, a failed pool
// submit, a failed read or write on one connection. kv is alternating
// key/value pairs.
func Warn(msg string, kv ...any) { event(current().Warn(), msg, kv) }

// Error logs a condition the caller should treat as a hard failure:
// registration failure that leaves an FD errored, an iocb panic.
func Error(msg string, kv ...any) { event(current().Error(), msg, kv) }

func event(e *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}
