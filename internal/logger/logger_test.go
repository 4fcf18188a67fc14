package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T) (Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	l := NewLogger(DefaultConfig)
	sl, ok := l.(*StructuredLogger)
	require.True(t, ok)
	sl.logger.SetOutput(buf)
	return l, buf
}

func TestStructuredLoggerFields(t *testing.T) {
	l, buf := newBufferLogger(t)

	l.WithField("component", "engine").Info("sweep finished", "due", 3, "pruned", 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sweep finished", entry["msg"])
	assert.Equal(t, "engine", entry["component"])
	assert.Equal(t, float64(3), entry["due"])
	assert.Equal(t, float64(1), entry["pruned"])
}

func TestOddFieldCountIsIgnored(t *testing.T) {
	l, buf := newBufferLogger(t)

	l.Warn("dangling", "key")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, ok := entry["key"]
	assert.False(t, ok)
}

func TestWithContextPicksUpIDs(t *testing.T) {
	l, buf := newBufferLogger(t)

	ctx := context.WithValue(context.Background(), SweepIDKey, "sweep-1")
	l.WithContext(ctx).Info("batch fetched")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sweep-1", entry["sweep_id"])
}

func TestSetLevelSharedWithDerivedLoggers(t *testing.T) {
	l, buf := newBufferLogger(t)
	child := l.WithField("component", "cache")

	l.SetLevel(LevelError)
	child.Info("hidden")
	assert.Empty(t, buf.String())
	assert.Equal(t, LevelError, child.GetLevel())

	l.SetLevel(LogLevel("bogus"))
	assert.Equal(t, LevelError, l.GetLevel())
	assert.Equal(t, logrus.ErrorLevel, l.(*StructuredLogger).logger.GetLevel())
}

func TestComponentFallsBackToGlobal(t *testing.T) {
	assert.NotNil(t, Component(nil, "engine"))
	assert.NotNil(t, Discard())
}
