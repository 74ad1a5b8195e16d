// Package logging sets up slog and keeps recent records in memory for
// the log endpoint and websocket subscribers
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry is one captured log record
type Entry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	Component string         `json:"component,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// Buffer stores the most recent log entries
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	count   int

	subMu       sync.RWMutex
	subscribers map[chan Entry]struct{}
}

// NewBuffer creates a buffer holding up to size entries
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{
		entries:     make([]Entry, size),
		subscribers: make(map[chan Entry]struct{}),
	}
}

// Add stores an entry and fans it out to subscribers
func (b *Buffer) Add(entry Entry) {
	b.mu.Lock()
	b.entries[b.head] = entry
	b.head = (b.head + 1) % len(b.entries)
	if b.count < len(b.entries) {
		b.count++
	}
	b.mu.Unlock()

	b.subMu.RLock()
	for ch := range b.subscribers {
		select {
		case ch <- entry:
		default:
			// Slow subscriber, drop
		}
	}
	b.subMu.RUnlock()
}

// Query selects entries from the buffer
type Query struct {
	Limit     int
	Component string
	MinLevel  slog.Level
}

// Recent returns up to q.Limit matching entries, oldest first
func (b *Buffer) Recent(q Query) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	size := len(b.entries)
	start := (b.head - b.count + size) % size

	var out []Entry
	for i := 0; i < b.count; i++ {
		e := b.entries[(start+i)%size]
		if q.Component != "" && e.Component != q.Component {
			continue
		}
		if lvl, err := ParseLevel(e.Level); err == nil && lvl < q.MinLevel {
			continue
		}
		out = append(out, e)
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	if out == nil {
		out = []Entry{}
	}
	return out
}

// Subscribe returns a channel receiving new entries
func (b *Buffer) Subscribe() chan Entry {
	ch := make(chan Entry, 100)
	b.subMu.Lock()
	b.subscribers[ch] = struct{}{}
	b.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription
func (b *Buffer) Unsubscribe(ch chan Entry) {
	b.subMu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.subMu.Unlock()
}

// StreamHandler is a slog handler that captures records to a Buffer and
// forwards them to another handler
type StreamHandler struct {
	buffer *Buffer
	next   slog.Handler
	attrs  []slog.Attr
	groups []string
}

// NewStreamHandler wraps next
func NewStreamHandler(buffer *Buffer, next slog.Handler) *StreamHandler {
	return &StreamHandler{buffer: buffer, next: next}
}

// Enabled implements slog.Handler
func (h *StreamHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler
func (h *StreamHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any)
	var component string

	for _, a := range h.attrs {
		if a.Key == "component" {
			component = a.Value.String()
		} else {
			attrs[a.Key] = a.Value.Any()
		}
	}
	prefix := h.prefix()
	r.Attrs(func(a slog.Attr) bool {
		if prefix == "" && a.Key == "component" {
			component = a.Value.String()
		} else {
			attrs[prefix+a.Key] = a.Value.Any()
		}
		return true
	})

	entry := Entry{
		Time:      r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Component: component,
	}
	if len(attrs) > 0 {
		entry.Attrs = attrs
	}
	h.buffer.Add(entry)

	return h.next.Handle(ctx, r)
}

// WithAttrs implements slog.Handler
func (h *StreamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// Stored with their group path already applied
	prefix := h.prefix()
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, a := range attrs {
		a.Key = prefix + a.Key
		merged = append(merged, a)
	}
	return &StreamHandler{
		buffer: h.buffer,
		next:   h.next.WithAttrs(attrs),
		attrs:  merged,
		groups: h.groups,
	}
}

// WithGroup implements slog.Handler
func (h *StreamHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &StreamHandler{
		buffer: h.buffer,
		next:   h.next.WithGroup(name),
		attrs:  h.attrs,
		groups: groups,
	}
}

func (h *StreamHandler) prefix() string {
	if len(h.groups) == 0 {
		return ""
	}
	return strings.Join(h.groups, ".") + "."
}

// ParseLevel maps debug, info, warn and error (any case) to a level
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

// New builds a logger writing format ("json" or "text") to w at level and
// capturing every record into buffer
func New(level, format string, w io.Writer, buffer *Buffer) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var next slog.Handler
	switch strings.ToLower(format) {
	case "", "json":
		next = slog.NewJSONHandler(w, opts)
	case "text":
		next = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	return slog.New(NewStreamHandler(buffer, next)), nil
}
