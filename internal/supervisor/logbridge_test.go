package supervisor

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestZerologHandlerWritesRecordsAtMappedLevels(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	handler := &zerologHandler{log: log}

	rec := slog.NewRecord(time.Now(), slog.LevelError, "something broke", 0)
	rec.AddAttrs(slog.String("service", "sync-scheduler"))

	require.NoError(t, handler.Handle(context.Background(), rec))
	out := buf.String()
	require.Contains(t, out, "something broke")
	require.Contains(t, out, "sync-scheduler")
	require.Contains(t, out, `"level":"error"`)
}

func TestZerologHandlerEnabledFiltersBelowInfo(t *testing.T) {
	handler := &zerologHandler{log: zerolog.Nop()}
	require.True(t, handler.Enabled(context.Background(), slog.LevelInfo))
	require.True(t, handler.Enabled(context.Background(), slog.LevelWarn))
	require.False(t, handler.Enabled(context.Background(), slog.LevelDebug))
}

func TestZerologHandlerWithAttrsCarriesForward(t *testing.T) {
	var buf bytes.Buffer
	handler := &zerologHandler{log: zerolog.New(&buf)}

	withAttrs := handler.WithAttrs([]slog.Attr{slog.String("layer", "messaging")})
	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "layer started", 0)
	require.NoError(t, withAttrs.Handle(context.Background(), rec))
	require.Contains(t, buf.String(), "messaging")
}

func TestNewSlogLoggerIsUsable(t *testing.T) {
	logger := newSlogLogger(zerolog.Nop())
	require.NotNil(t, logger)
	logger.Info("ready")
}
