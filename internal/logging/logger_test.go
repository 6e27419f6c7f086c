package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{" warn ", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"fatal", LevelFatal},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestTallyLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelDebug, Format: "json", Output: &buf})

	logger.WithComponent("scheduler").
		With("pid", 7).
		Warn(context.Background(), errors.New("boom"), "process failed", "steps", 3)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "process failed", record["msg"])
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "scheduler", record["component"])
	assert.Equal(t, "boom", record["error"])
	assert.EqualValues(t, 7, record["pid"])
	assert.EqualValues(t, 3, record["steps"])
}

func TestTallyLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelWarn, Format: "text", Output: &buf})

	logger.Debug(context.Background(), "hidden")
	logger.Info(context.Background(), "hidden too")
	assert.Empty(t, buf.String())

	logger.Error(context.Background(), nil, "visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestTallyLogger_AutoFormatOnBuffer(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelInfo, Format: "auto", Output: &buf})
	logger.Info(context.Background(), "hello")

	// A buffer is not a terminal, so auto selects JSON.
	assert.True(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestWithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(&LoggerConfig{Level: LevelInfo, Format: "json", Output: &buf})
	_ = parent.With("child", true)

	parent.Info(context.Background(), "parent")
	assert.NotContains(t, buf.String(), "child")
}

func TestMultiLogger(t *testing.T) {
	a, b := &countingLogger{}, &countingLogger{}
	m := NewMultiLogger(a, b)

	m.Info(context.Background(), "x")
	m.WithComponent("c").Error(context.Background(), errors.New("e"), "y")

	assert.Equal(t, 2, a.calls)
	assert.Equal(t, 2, b.calls)
}

func TestNop(t *testing.T) {
	n := Nop()
	assert.NotPanics(t, func() {
		n.With("a", 1).WithComponent("b").Error(context.Background(), errors.New("x"), "y")
	})
}

type countingLogger struct {
	calls int
}

func (c *countingLogger) Debug(context.Context, string, ...interface{})        { c.calls++ }
func (c *countingLogger) Info(context.Context, string, ...interface{})         { c.calls++ }
func (c *countingLogger) Warn(context.Context, error, string, ...interface{})  { c.calls++ }
func (c *countingLogger) Error(context.Context, error, string, ...interface{}) { c.calls++ }
func (c *countingLogger) Fatal(context.Context, error, string, ...interface{}) { c.calls++ }
func (c *countingLogger) With(...interface{}) Logger                           { return c }
func (c *countingLogger) WithComponent(string) Logger                          { return c }
