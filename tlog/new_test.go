package tlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestGetWithoutLogger(t *testing.T) {
	logger := Get(context.Background())
	require.NotNil(t, logger)
	logger.Info("dropped")
}

func TestComponent(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ctx := Component(WithLogger(context.Background(), zap.New(core)), "receive")

	Get(ctx).Debug("message", zap.String("msg", "added"))

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "message", entries[0].Message)
	require.Equal(t, map[string]any{"component": "receive", "msg": "added"}, entries[0].ContextMap())
}

func TestNew(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatText} {
		logger := New(Config{Name: "test", Format: format, Color: ColorNo})
		require.NotNil(t, logger)
	}
	require.Panics(t, func() { New(Config{Format: "xml"}) })
	require.Panics(t, func() { New(Config{Format: FormatText, Color: "maybe"}) })
}
