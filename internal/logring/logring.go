// Package logring keeps the most recent structured log entries in memory
// so operators can inspect daemon activity via the API without shell
// access to the host.
package logring

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry is one captured log record.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Ring is a thread-safe fixed-capacity buffer of log entries.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	pos     int
	count   int
}

// New creates a ring holding up to size entries.
func New(size int) *Ring {
	return &Ring{entries: make([]Entry, size)}
}

// Add appends an entry, evicting the oldest when full.
func (r *Ring) Add(e Entry) {
	r.mu.Lock()
	r.entries[r.pos] = e
	r.pos = (r.pos + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
	r.mu.Unlock()
}

// Recent returns up to limit entries at or above minLevel, oldest first.
// limit <= 0 returns all matching entries.
func (r *Ring) Recent(minLevel slog.Level, limit int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := 0
	if r.count == len(r.entries) {
		start = r.pos
	}

	var out []Entry
	for i := 0; i < r.count; i++ {
		e := r.entries[(start+i)%len(r.entries)]
		if levelOf(e.Level) < minLevel {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func levelOf(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Handler is an slog.Handler that captures every record into a Ring and
// delegates to an inner handler for normal output.
type Handler struct {
	inner slog.Handler
	ring  *Ring
	attrs []slog.Attr
}

// NewHandler wraps inner so records are also captured in ring.
func NewHandler(inner slog.Handler, ring *Ring) *Handler {
	return &Handler{inner: inner, ring: ring}
}

// Enabled always reports true so the ring sees every level; the inner
// handler still applies its own filter on delegation.
func (h *Handler) Enabled(context.Context, slog.Level) bool { return true }

func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	attrs := make(map[string]any)
	for _, a := range h.attrs {
		attrs[a.Key] = resolve(a.Value)
	}
	rec.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = resolve(a.Value)
		return true
	})
	if len(attrs) == 0 {
		attrs = nil
	}

	h.ring.Add(Entry{
		Time:    rec.Time,
		Level:   rec.Level.String(),
		Message: rec.Message,
		Attrs:   attrs,
	})

	if h.inner.Enabled(ctx, rec.Level) {
		return h.inner.Handle(ctx, rec)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		inner: h.inner.WithAttrs(attrs),
		ring:  h.ring,
		attrs: append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name), ring: h.ring, attrs: h.attrs}
}

// resolve converts slog values to JSON-safe types; errors become strings
// so they don't serialize to {}.
func resolve(v slog.Value) any {
	raw := v.Resolve().Any()
	if err, ok := raw.(error); ok {
		return err.Error()
	}
	return raw
}
