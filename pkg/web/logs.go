package web

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// LogHandler mirrors records at or above level into the dashboard log and
// passes every record on to next.
func (s *Server) LogHandler(next slog.Handler, level slog.Level) slog.Handler {
	return &mirrorHandler{next: next, server: s, level: level}
}

type mirrorHandler struct {
	next   slog.Handler
	server *Server
	level  slog.Level
	attrs  []slog.Attr
	group  string
}

func (h *mirrorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level || h.next.Enabled(ctx, level)
}

func (h *mirrorHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level {
		var b strings.Builder
		b.WriteString(r.Message)
		write := func(a slog.Attr) bool {
			if h.group != "" {
				a.Key = h.group + "." + a.Key
			}
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
			return true
		}
		for _, a := range h.attrs {
			write(a)
		}
		r.Attrs(write)
		h.server.AddLog(strings.ToLower(r.Level.String()), b.String())
	}
	if h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *mirrorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &c
}

func (h *mirrorHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.next = h.next.WithGroup(name)
	if c.group != "" {
		name = c.group + "." + name
	}
	c.group = name
	return &c
}
