package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Sink writes entries to a Log from a single goroutine. Logging never touches the
// store on the caller's goroutine, so it is safe inside store updates.
type Sink struct {
	log *Log
	ch  chan Entry

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewSink starts a sink with the given buffer size. Entries beyond the buffer are dropped.
func NewSink(log *Log, buffer int) *Sink {
	if buffer <= 0 {
		buffer = 64
	}
	s := &Sink{log: log, ch: make(chan Entry, buffer), done: make(chan struct{})}
	go s.run()
	return s
}

func (s *Sink) run() {
	defer close(s.done)
	for e := range s.ch {
		batch := []Entry{e}
	drain:
		for {
			select {
			case more, ok := <-s.ch:
				if !ok {
					break drain
				}
				batch = append(batch, more)
			default:
				break drain
			}
		}
		_ = s.log.Append(context.Background(), batch...)
	}
}

func (s *Sink) send(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
	}
}

// Close flushes pending entries and stops the sink.
func (s *Sink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
	<-s.done
}

// Handler is a slog.Handler that forwards records to an inner handler and
// copies those at or above Level into the activity log.
type Handler struct {
	inner  slog.Handler
	sink   *Sink
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// NewHandler wraps inner. inner may be nil to record only.
func NewHandler(inner slog.Handler, sink *Sink, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{inner: inner, sink: sink, level: level}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(ctx context.Context, l slog.Level) bool {
	if l >= h.level.Level() {
		return true
	}
	return h.inner != nil && h.inner.Enabled(ctx, l)
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level.Level() && h.sink != nil {
		extra := map[string]any{}
		for _, a := range h.attrs {
			addAttr(extra, "", a)
		}
		r.Attrs(func(a slog.Attr) bool {
			addAttr(extra, h.prefix, a)
			return true
		})
		if len(extra) == 0 {
			extra = nil
		}
		ts := r.Time
		if ts.IsZero() {
			ts = time.Now()
		}
		h.sink.send(NewEntry(ts.UTC(), strings.ToLower(r.Level.String()), r.Message, extra))
	}
	if h.inner != nil && h.inner.Enabled(ctx, r.Level) {
		return h.inner.Handle(ctx, r)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	if h.inner != nil {
		next.inner = h.inner.WithAttrs(attrs)
	}
	return &next
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	if h.inner != nil {
		next.inner = h.inner.WithGroup(name)
	}
	return &next
}

func addAttr(out map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			addAttr(out, p, ga)
		}
		return
	}
	v := a.Value.Any()
	if err, ok := v.(error); ok {
		v = err.Error()
	}
	if d, ok := v.(time.Duration); ok {
		v = d.Milliseconds()
	}
	if a.Value.Kind() == slog.KindAny {
		if _, err := json.Marshal(v); err != nil {
			v = fmt.Sprint(v)
		}
	}
	out[prefix+a.Key] = v
}
