// Package klog is a thin slog wrapper for engine- and extract-level
// diagnostics, in the style of rcornwell-S370/util/logger: a custom
// slog.Handler that timestamps and flattens attributes into one line,
// rather than structured JSON. The engine logs through it only on its two
// self-disabling failure paths (arena full without wrap, and a bad
// variable-length entry length); a successful insert never logs, and the
// control surface and extraction do not log.
package klog

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Logger wraps an *slog.Logger tagged with a module version, so every
// record carries enough context to tell which build produced it.
type Logger struct {
	*slog.Logger
}

// Discard returns a Logger that drops every record, for callers that
// don't want engine/extract diagnostics.
func Discard() *Logger {
	return &Logger{slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// New returns a Logger writing to out, tagging every record with the
// wire-format version this build speaks.
func New(out io.Writer, version int) *Logger {
	h := &handler{out: out, mu: &sync.Mutex{}}
	return &Logger{slog.New(h).With("kutrace_version", version)}
}

// WithCPU returns a Logger whose records are additionally tagged with
// the originating logical CPU index.
func (l *Logger) WithCPU(cpu int) *Logger {
	return &Logger{l.Logger.With("cpu", cpu)}
}

// handler is a minimal slog.Handler that flattens each record to one
// "time level msg attr=val..." line, matching the plain-text style of
// the logger this package is grounded on.
type handler struct {
	out   io.Writer
	mu    *sync.Mutex
	attrs []slog.Attr // accumulated via With, prepended to every record
}

func (h *handler) Enabled(context.Context, slog.Level) bool { return true }

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	parts := []string{r.Time.Format("2006/01/02 15:04:05"), r.Level.String() + ":", r.Message}
	for _, a := range h.attrs {
		parts = append(parts, a.Key+"="+a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, a.Key+"="+a.Value.String())
		return true
	})
	line := strings.Join(parts, " ") + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, line)
	return err
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &handler{out: h.out, mu: h.mu, attrs: merged}
}

func (h *handler) WithGroup(string) slog.Handler { return h }
