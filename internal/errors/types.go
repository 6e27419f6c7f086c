// Package errors provides the structured error type used across tally.
//
// Errors carry a category (ErrorType), a stable machine-readable code and an
// optional cause. Configuration errors are fatal to startup; decode and task
// errors are values the application may surface or ignore.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeDecode   ErrorType = "decode"
	ErrorTypeTask     ErrorType = "task"
	ErrorTypeIO       ErrorType = "io"
	ErrorTypeNetwork  ErrorType = "network"
	ErrorTypeInternal ErrorType = "internal"
)

// TallyError is a structured error type with context.
type TallyError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	Recoverable bool
}

// Error implements the error interface.
func (e *TallyError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *TallyError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *TallyError) Is(target error) bool {
	var t *TallyError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *TallyError) WithContext(key string, value interface{}) *TallyError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithComponent adds component context.
func (e *TallyError) WithComponent(component string) *TallyError {
	e.Component = component

	return e
}

// NewConfigError creates a configuration error. Configuration errors abort
// startup.
func NewConfigError(code, message string) *TallyError {
	return &TallyError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewDecodeError creates a decode error around a structured decode failure.
func NewDecodeError(code, message string, cause error) *TallyError {
	return &TallyError{
		Type:        ErrorTypeDecode,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewTaskError creates a task failure.
func NewTaskError(code, message string, cause error) *TallyError {
	return &TallyError{
		Type:        ErrorTypeTask,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *TallyError {
	return &TallyError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewNetworkError creates an error about a rejected or failed request.
func NewNetworkError(code, message string, cause error) *TallyError {
	return &TallyError{
		Type:        ErrorTypeNetwork,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *TallyError {
	return &TallyError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var te *TallyError
	if errors.As(err, &te) {
		return te.Recoverable
	}

	return false
}

// IsConfigError checks if an error is a configuration error.
func IsConfigError(err error) bool {
	var te *TallyError
	if errors.As(err, &te) {
		return te.Type == ErrorTypeConfig
	}

	return false
}

// IsDecodeError checks if an error is a decode error.
func IsDecodeError(err error) bool {
	var te *TallyError
	if errors.As(err, &te) {
		return te.Type == ErrorTypeDecode
	}

	return false
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle processes an error with appropriate logging.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var te *TallyError
	if !errors.As(err, &te) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch te.Type {
	case ErrorTypeDecode, ErrorTypeTask:
		h.logger.Warn(ctx, err, "Recoverable error occurred",
			"type", te.Type,
			"code", te.Code,
			"component", te.Component)
	default:
		h.logger.Error(ctx, err, "Error occurred",
			"type", te.Type,
			"code", te.Code,
			"component", te.Component)
	}
}

// Common error codes.
const (
	ErrCodeDuplicateManager = "ERR_DUPLICATE_MANAGER"
	ErrCodeUnknownManager   = "ERR_UNKNOWN_MANAGER"
	ErrCodeFlagsInvalid     = "ERR_FLAGS_INVALID"
	ErrCodeMountMissing     = "ERR_MOUNT_MISSING"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodePortInput        = "ERR_PORT_INPUT"
	ErrCodeTaskPanic        = "ERR_TASK_PANIC"
	ErrCodeStore            = "ERR_STORE"
	ErrCodeWatch            = "ERR_WATCH"
	ErrCodeOriginRejected   = "ERR_ORIGIN_REJECTED"
	ErrCodeListen           = "ERR_LISTEN"
	ErrCodeInternalError    = "ERR_INTERNAL"
)

// ErrDuplicateManager reports a second registration under an existing
// manager or port name.
func ErrDuplicateManager(name string) *TallyError {
	return NewConfigError(
		ErrCodeDuplicateManager,
		"effect manager or port registered twice: "+name,
	).WithContext("name", name)
}

// ErrFlagsInvalid reports startup flags that failed to decode.
func ErrFlagsInvalid(cause error) *TallyError {
	e := NewConfigError(ErrCodeFlagsInvalid, "startup flags could not be decoded")
	e.Cause = cause

	return e
}

// ErrMountMissing reports a runtime started without a host mount node.
func ErrMountMissing() *TallyError {
	return NewConfigError(ErrCodeMountMissing, "host tree mount point is missing")
}

// ErrPortInput reports a value sent through an incoming port that did not
// decode.
func ErrPortInput(port string, cause error) *TallyError {
	return NewDecodeError(
		ErrCodePortInput,
		"unexpected value sent through port "+port,
		cause,
	).WithContext("port", port)
}
