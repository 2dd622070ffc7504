package supervisor

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// zerologHandler adapts zerolog.Logger to the log/slog.Handler interface,
// needed only because sutureslog.Handler (thejerf/sutureslog) is written
// against log/slog rather than zerolog. Every other logging surface in
// this repo uses zerolog directly; this bridge exists solely to satisfy
// that one third-party dependency's API.
type zerologHandler struct {
	log zerolog.Logger
}

func newSlogLogger(log zerolog.Logger) *slog.Logger {
	return slog.New(&zerologHandler{log: log})
}

func (h *zerologHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (h *zerologHandler) Handle(_ context.Context, record slog.Record) error {
	var ev *zerolog.Event
	switch {
	case record.Level >= slog.LevelError:
		ev = h.log.Error()
	case record.Level >= slog.LevelWarn:
		ev = h.log.Warn()
	case record.Level >= slog.LevelInfo:
		ev = h.log.Info()
	default:
		ev = h.log.Debug()
	}
	record.Attrs(func(a slog.Attr) bool {
		ev = ev.Interface(a.Key, a.Value.Any())
		return true
	})
	ev.Msg(record.Message)
	return nil
}

func (h *zerologHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	ctx := h.log.With()
	for _, a := range attrs {
		ctx = ctx.Interface(a.Key, a.Value.Any())
	}
	return &zerologHandler{log: ctx.Logger()}
}

func (h *zerologHandler) WithGroup(name string) slog.Handler {
	return &zerologHandler{log: h.log.With().Str("group", name).Logger()}
}
