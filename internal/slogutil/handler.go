package slogutil

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LineHandler writes one record per line:
//
//	2025-01-02T15:04:05Z [warn] file degraded | path=a.go reason="read failed"
//
// String values containing spaces, quotes or '=' are quoted so the line
// still splits cleanly on spaces.
type LineHandler struct {
	w      io.Writer
	mu     *sync.Mutex
	level  slog.Leveler
	prefix string // dotted group path, "" or ending in "."
	fixed  []byte // attrs bound through WithAttrs, already rendered
}

// NewLineHandler returns a LineHandler writing to w. A nil opts or opts.Level
// means info.
func NewLineHandler(w io.Writer, opts *slog.HandlerOptions) *LineHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &LineHandler{w: w, mu: new(sync.Mutex), level: level}
}

func (h *LineHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *LineHandler) Handle(_ context.Context, r slog.Record) error {
	line := make([]byte, 0, 128+len(h.fixed))
	if !r.Time.IsZero() {
		line = r.Time.UTC().AppendFormat(line, time.RFC3339)
		line = append(line, ' ')
	}
	line = append(line, '[')
	line = append(line, levelName(r.Level)...)
	line = append(line, "] "...)
	line = append(line, r.Message...)

	attrs := h.fixed
	if r.NumAttrs() > 0 {
		attrs = append([]byte(nil), h.fixed...)
		r.Attrs(func(a slog.Attr) bool {
			attrs = appendAttr(attrs, h.prefix, a)
			return true
		})
	}
	if len(attrs) > 0 {
		line = append(line, " |"...)
		line = append(line, attrs...)
	}
	line = append(line, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(line)
	return err
}

func (h *LineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := *h
	c.fixed = append([]byte(nil), h.fixed...)
	for _, a := range attrs {
		c.fixed = appendAttr(c.fixed, h.prefix, a)
	}
	return &c
}

func (h *LineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}

// appendAttr renders " key=value", flattening groups into dotted keys.
func appendAttr(dst []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return dst
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			dst = appendAttr(dst, prefix, ga)
		}
		return dst
	}
	if a.Key == "" {
		return dst
	}
	dst = append(dst, ' ')
	dst = append(dst, prefix...)
	dst = append(dst, a.Key...)
	dst = append(dst, '=')
	return appendValue(dst, a.Value)
}

func appendValue(dst []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if s == "" || strings.ContainsAny(s, " \t\n\"=") {
			return strconv.AppendQuote(dst, s)
		}
		return append(dst, s...)
	case slog.KindInt64:
		return strconv.AppendInt(dst, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(dst, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(dst, v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.AppendBool(dst, v.Bool())
	case slog.KindDuration:
		return append(dst, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().UTC().AppendFormat(dst, time.RFC3339)
	}
	if err, ok := v.Any().(error); ok {
		return strconv.AppendQuote(dst, err.Error())
	}
	return appendValue(dst, slog.StringValue(v.String()))
}

// levelName buckets custom levels into the four standard names.
func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	case l >= slog.LevelInfo:
		return "info"
	}
	return "debug"
}

// fanout sends every record to each handler that accepts its level.
type fanout []slog.Handler

// Tee returns a handler that duplicates records to every handler in hs.
func Tee(hs ...slog.Handler) slog.Handler {
	if len(hs) == 1 {
		return hs[0]
	}
	return fanout(hs)
}

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
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
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
