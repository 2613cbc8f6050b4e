package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesFormattedMessages(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Level: "debug", Output: buf})

	logger.Info("hello %s", "world")

	require.NotEmpty(t, buf.String())
	assert.Contains(t, buf.String(), "hello world")
}

func TestWithTagsComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Level: "debug", Output: buf, JSON: true})

	scoped := logger.With("scheduler")
	scoped.Warn("poll timed out")

	assert.Contains(t, buf.String(), `"component":"scheduler"`)
	assert.Contains(t, buf.String(), "poll timed out")
}

func TestOrNopHandlesNilInterface(t *testing.T) {
	var logger Logger
	assert.True(t, IsNil(logger))

	safe := OrNop(logger)
	require.False(t, IsNil(safe))
	safe.Info("should not panic")
}

func TestOrNopHandlesTypedNilPointer(t *testing.T) {
	var typed *slogLogger
	var logger Logger = typed
	assert.True(t, IsNil(logger))

	safe := OrNop(logger)
	safe.Error("still should not panic: %d", 42)
}

func TestNopLoggerWithReturnsNop(t *testing.T) {
	derived := Nop.With("anything")
	assert.Equal(t, Nop, derived)
}
