package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTallyErrorFormatting(t *testing.T) {
	err := NewTaskError(ErrCodeTaskPanic, "task panicked", errors.New("nil map")).
		WithComponent("scheduler")

	assert.Equal(t, "[ERR_TASK_PANIC] component:scheduler task panicked: nil map", err.Error())
	assert.True(t, err.Recoverable)
}

func TestTallyErrorIs(t *testing.T) {
	a := ErrDuplicateManager("store")
	b := ErrDuplicateManager("watcher")

	assert.True(t, errors.Is(a, b), "same type and code compare equal")
	assert.False(t, errors.Is(a, ErrMountMissing()))

	wrapped := fmt.Errorf("startup: %w", a)
	assert.True(t, errors.Is(wrapped, b))
	assert.True(t, IsConfigError(wrapped))
	assert.True(t, IsFatalError(wrapped))
}

func TestWrap(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Wrap(nil, ErrorTypeIO, ErrCodeStore, "x"))
	})

	t.Run("plain error", func(t *testing.T) {
		cause := errors.New("disk full")
		err := WrapIO(cause, ErrCodeStore, "write entry")
		require.NotNil(t, err)
		assert.Equal(t, ErrorTypeIO, err.Type)
		assert.False(t, err.Recoverable)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, cause, ExtractCause(err))
	})

	t.Run("keeps component of inner error", func(t *testing.T) {
		inner := NewDecodeError(ErrCodePortInput, "bad", nil).WithComponent("ports")
		err := Wrap(inner, ErrorTypeTask, "ERR_X", "outer")
		assert.Equal(t, "ports", err.Component)
		assert.True(t, err.Recoverable)
	})
}

func TestErrPortInput(t *testing.T) {
	err := ErrPortInput("externalEntry", errors.New("expected an OBJECT"))
	assert.True(t, IsDecodeError(err))
	assert.True(t, IsRecoverable(err))
	assert.Equal(t, "externalEntry", err.Context["port"])
	assert.Contains(t, err.Error(), "externalEntry")
}

func TestGetErrorContext(t *testing.T) {
	ctx := GetErrorContext(ErrDuplicateManager("ledgerSaved"))
	assert.Equal(t, "config", ctx["type"])
	assert.Equal(t, ErrCodeDuplicateManager, ctx["code"])
	assert.Equal(t, "ledgerSaved", ctx["name"])

	plain := GetErrorContext(errors.New("x"))
	assert.Equal(t, "unknown", plain["type"])
}

func TestCombineErrors(t *testing.T) {
	assert.Nil(t, CombineErrors(nil, nil))

	one := errors.New("one")
	assert.Equal(t, one, CombineErrors(nil, one))

	combined := CombineErrors(one, errors.New("two"))
	require.Error(t, combined)
	assert.Equal(t, 2, GetErrorContext(combined)["error_count"])
}

func TestErrorHandler(t *testing.T) {
	rec := &recordingLogger{}
	h := NewErrorHandler(rec)

	h.Handle(context.Background(), nil)
	h.Handle(context.Background(), NewTaskError("ERR_X", "x", nil))
	h.Handle(context.Background(), ErrMountMissing())
	h.Handle(context.Background(), errors.New("plain"))

	assert.Equal(t, 1, rec.warns)
	assert.Equal(t, 2, rec.errors)
}

type recordingLogger struct {
	warns, errors int
}

func (r *recordingLogger) Error(context.Context, error, string, ...interface{}) { r.errors++ }
func (r *recordingLogger) Warn(context.Context, error, string, ...interface{})  { r.warns++ }
