package logging

import (
	"context"
	"errors"
	"log/slog"
)

// AttrSource supplies the live attributes stamped on every record, such as
// the run, state and battery of the mission in progress.
type AttrSource interface {
	Attrs() []slog.Attr
}

// ContextProvider adapts a plain function to AttrSource.
type ContextProvider func() []slog.Attr

// Attrs calls f. A nil f yields nothing.
func (f ContextProvider) Attrs() []slog.Attr {
	if f == nil {
		return nil
	}
	return f()
}

// liveHandler adds the source's attributes at handle time. A key the caller
// already set on the record is left alone, so a component logging its own
// "state" is not shadowed by the mission state.
type liveHandler struct {
	inner slog.Handler
	src   AttrSource
}

func withLiveAttrs(inner slog.Handler, src AttrSource) slog.Handler {
	if src == nil {
		return inner
	}
	return &liveHandler{inner: inner, src: src}
}

func (h *liveHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *liveHandler) Handle(ctx context.Context, r slog.Record) error {
	live := h.src.Attrs()
	if len(live) == 0 {
		return h.inner.Handle(ctx, r)
	}

	set := make(map[string]struct{}, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		set[a.Key] = struct{}{}
		return true
	})
	for _, a := range live {
		if _, ok := set[a.Key]; !ok {
			r.AddAttrs(a)
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *liveHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &liveHandler{inner: h.inner.WithAttrs(attrs), src: h.src}
}

func (h *liveHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &liveHandler{inner: h.inner.WithGroup(name), src: h.src}
}

// fanout sends each record to every output enabled for its level: the log
// file or console, the otel bridge and Graylog. One failing output does not
// starve the others; their errors are joined.
type fanout []slog.Handler

func newFanout(outputs ...slog.Handler) fanout {
	f := make(fanout, 0, len(outputs))
	for _, h := range outputs {
		if h != nil {
			f = append(f, h)
		}
	}
	return f
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
