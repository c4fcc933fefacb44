package logging

import (
	"context"
	"errors"
	"log/slog"
	"slices"
)

// MultiHandler tees records to a set of handlers, typically the console
// and the journal. Each keeps its own level.
type MultiHandler []slog.Handler

// NewMultiHandler drops nil entries, so optional sinks can be passed as is.
func NewMultiHandler(handlers ...slog.Handler) MultiHandler {
	return slices.DeleteFunc(slices.Clone(handlers), func(h slog.Handler) bool { return h == nil })
}

func (m MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return slices.ContainsFunc(m, func(h slog.Handler) bool { return h.Enabled(ctx, level) })
}

// Handle delivers r to every sink that wants it, even after a failure.
func (m MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	for _, h := range m {
		if h.Enabled(ctx, r.Level) {
			err = errors.Join(err, h.Handle(ctx, r.Clone()))
		}
	}
	return err
}

func (m MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(MultiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (m MultiHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return m
	}
	out := make(MultiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithGroup(name)
	}
	return out
}
