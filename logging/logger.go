// Package logging builds the structured loggers used across puck.
//
// Everything logs through log/slog. Human-readable output goes to stderr so
// that stdout stays free for the terminal conversation or for ACP JSON-RPC
// traffic. When tracing is enabled the same records are also written as JSON
// to a trace file.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// Options configures New.
type Options struct {
	// Level is the minimum level written to Writer.
	Level slog.Level
	// Writer receives text records. Defaults to os.Stderr.
	Writer io.Writer
	// Trace, when set, additionally receives every record (debug and up)
	// as JSON.
	Trace io.Writer
}

// New creates a configured application logger. It standardizes the "error"
// key to "err".
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	handlers := []slog.Handler{
		slog.NewTextHandler(w, &slog.HandlerOptions{
			Level:       opts.Level,
			ReplaceAttr: renameError,
		}),
	}
	if opts.Trace != nil {
		handlers = append(handlers, slog.NewJSONHandler(opts.Trace, &slog.HandlerOptions{
			Level:       slog.LevelDebug,
			ReplaceAttr: renameError,
		}))
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0])
	}
	return slog.New(slogmulti.Fanout(handlers...))
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OpenTrace opens (appending) the trace file at path.
func OpenTrace(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func renameError(_ []string, a slog.Attr) slog.Attr {
	if a.Key == "error" {
		a.Key = "err"
	}
	return a
}
