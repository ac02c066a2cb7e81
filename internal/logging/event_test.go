package logging

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	before := time.Now()
	ev := NewEvent(LevelWarn, "app.db", "slow query")

	assert.Equal(t, LevelWarn, ev.Level)
	assert.Equal(t, "app.db", ev.Logger)
	assert.Equal(t, "slow query", ev.Message)
	assert.Equal(t, os.Getpid(), ev.PID)
	assert.False(t, ev.Time.Before(before))
	assert.Nil(t, ev.Source)
}

func TestLogEvent_WithSource(t *testing.T) {
	ev := NewEvent(LevelInfo, "app", "msg").WithSource(0)

	require.NotNil(t, ev.Source)
	assert.Contains(t, ev.Source.File, "event_test.go")
	assert.Greater(t, ev.Source.Line, 0)
	assert.Contains(t, ev.Source.Function, "TestLogEvent_WithSource")
}

func TestLogEvent_WithExtraDoesNotMutateOriginal(t *testing.T) {
	base := NewEvent(LevelInfo, "app", "msg").WithExtra("a", 1)
	derived := base.WithExtra("b", 2)

	assert.Equal(t, map[string]any{"a": 1}, base.Extra)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, derived.Extra)
}

func TestLogEvent_WithError(t *testing.T) {
	err := fmt.Errorf("connection refused")
	ev := NewEvent(LevelError, "app", "db down").WithError(err)

	require.NotNil(t, ev.Exception)
	assert.Equal(t, "*errors.errorString", ev.Exception.Class)
	assert.Equal(t, "connection refused", ev.Exception.Message)
	assert.Contains(t, ev.Exception.Traceback, "goroutine")
}

func TestLogEvent_WithNilError(t *testing.T) {
	ev := NewEvent(LevelError, "app", "msg").WithError(nil)
	assert.Nil(t, ev.Exception)
}
