package logging

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// SlogHandler adapts an EventAppender to the log/slog API. Handle never
// blocks; overflow is absorbed by the appender's queue.
type SlogHandler struct {
	appender EventAppender
	origin   string
	level    slog.Level
	attrs    []slog.Attr
	groups   []string
}

var _ slog.Handler = (*SlogHandler)(nil)

func NewSlogHandler(appender EventAppender, origin string, level slog.Level) *SlogHandler {
	return &SlogHandler{
		appender: appender,
		origin:   origin,
		level:    level,
	}
}

func (h *SlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *SlogHandler) Handle(ctx context.Context, r slog.Record) error {
	labels := make(map[string]string, len(h.attrs)+r.NumAttrs()+1)
	labels["level"] = r.Level.String()
	for _, a := range h.attrs {
		labels[h.labelKey(a.Key)] = a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		labels[h.labelKey(a.Key)] = a.Value.String()
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	h.appender.Append(Event{
		Timestamp: ts,
		Message:   r.Message,
		Origin:    h.origin,
		Labels:    labels,
	})
	return nil
}

func (h *SlogHandler) labelKey(key string) string {
	if len(h.groups) == 0 {
		return key
	}
	return strings.Join(h.groups, ".") + "." + key
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	h2.attrs = append(h2.attrs, h.attrs...)
	h2.attrs = append(h2.attrs, attrs...)
	return &h2
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = make([]string, 0, len(h.groups)+1)
	h2.groups = append(h2.groups, h.groups...)
	h2.groups = append(h2.groups, name)
	return &h2
}
