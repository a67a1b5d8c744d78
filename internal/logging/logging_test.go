package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Levels(t *testing.T) {
	l, err := New(Config{Level: "debug", Encoding: "console", Development: true})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = New(Config{})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))

	_, err = New(Config{Level: "loud"})
	assert.ErrorContains(t, err, "invalid level")
}

func TestGetSetAndContext(t *testing.T) {
	prev := Get()
	t.Cleanup(func() { Set(prev) })

	core, logs := observer.New(zapcore.InfoLevel)
	Set(zap.New(core))
	Set(nil)

	ctx := WithJob(context.Background(), "orders")
	FromContext(ctx, nil).Info("loaded")
	Named("loader").Info("plain")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "orders", entries[0].ContextMap()["job"])
	assert.Equal(t, "loader", entries[1].LoggerName)
}

func TestFromContext_NoJob(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := zap.New(core)

	FromContext(context.Background(), l).Info("x")
	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
}
