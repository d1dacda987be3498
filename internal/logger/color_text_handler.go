package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
)

const ansiReset = "\033[0m"

var levelColors = map[slog.Level]string{
	slog.LevelDebug: "\033[36m",
	slog.LevelInfo:  "\033[32m",
	slog.LevelWarn:  "\033[33m",
	slog.LevelError: "\033[31m",
}

// ColorTextHandler writes a colored level ahead of each slog text record.
// Handlers derived with WithAttrs or WithGroup share the writer and its lock.
type ColorTextHandler struct {
	inner slog.Handler
	out   *colorOutput
}

// colorOutput serializes lines: the inner text handler renders into buf and
// the finished line is copied to w under mu.
type colorOutput struct {
	mu  sync.Mutex
	w   io.Writer
	buf bytes.Buffer
}

func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *ColorTextHandler {
	var o slog.HandlerOptions
	if opts != nil {
		o = *opts
	}
	next := o.ReplaceAttr
	o.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		// level is printed in color by Handle
		if len(groups) == 0 && a.Key == slog.LevelKey {
			return slog.Attr{}
		}
		if next != nil {
			return next(groups, a)
		}
		return a
	}
	out := &colorOutput{w: w}
	return &ColorTextHandler{inner: slog.NewTextHandler(&out.buf, &o), out: out}
}

func (h *ColorTextHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.inner.Enabled(ctx, l)
}

func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	color, ok := levelColors[r.Level]
	if !ok {
		color = ansiReset
	}
	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	h.out.buf.Reset()
	h.out.buf.WriteString(color + r.Level.String() + ansiReset + " ")
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}
	_, err := h.out.w.Write(h.out.buf.Bytes())
	return err
}

func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColorTextHandler{inner: h.inner.WithAttrs(attrs), out: h.out}
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	return &ColorTextHandler{inner: h.inner.WithGroup(name), out: h.out}
}
