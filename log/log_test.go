package log

import (
	"context"
	"strconv"
	"testing"

	"github.com/twnesss/skunk/option"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerContextID(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.DebugLevel)
	factory := NewFactory(zap.New(core))
	logger := factory.NewLogger("layer")
	ctx := ContextWithNewID(context.Background())
	id, loaded := IDFromContext(ctx)
	require.True(t, loaded)
	logger.InfoContext(ctx, "inbound connection to ", "example.com:443")
	logger.Debug("plain")
	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	require.Equal(t, "layer", entries[0].LoggerName)
	require.Contains(t, entries[0].Message, "inbound connection to example.com:443")
	require.Contains(t, entries[0].Message, "[")
	require.Contains(t, entries[0].Message, strconv.FormatUint(uint64(id.ID), 10))
	require.Equal(t, "plain", entries[1].Message)
}

func TestLoggerLevel(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.WarnLevel)
	logger := NewFactory(zap.New(core)).NewLogger("")
	logger.Info("dropped")
	logger.Warn("kept")
	require.Equal(t, 1, logs.Len())
}

func TestNewFactoryOptions(t *testing.T) {
	t.Parallel()
	_, err := New(option.LogOptions{Level: "verbose"})
	require.Error(t, err)
	factory, err := New(option.LogOptions{Level: "warn", Output: t.TempDir() + "/skunk.log"})
	require.NoError(t, err)
	factory.NewLogger("test").Warn("written")
	require.NoError(t, factory.Close())
}
