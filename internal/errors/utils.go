package errors

import (
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context, creating a TallyError if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *TallyError {
	if err == nil {
		return nil
	}

	// Keep the component of an existing TallyError
	var te *TallyError
	if errors.As(err, &te) {
		return &TallyError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       te,
			Context:     te.Context,
			Component:   te.Component,
			Recoverable: te.Recoverable,
		}
	}

	return &TallyError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeDecode || errType == ErrorTypeTask,
	}
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(err error, code, message string) *TallyError {
	templErr := Wrap(err, ErrorTypeConfig, code, message)
	if templErr != nil {
		templErr.Recoverable = false
	}
	return templErr
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *TallyError {
	templErr := Wrap(err, ErrorTypeIO, code, message)
	if templErr != nil {
		templErr.Recoverable = false
	}
	return templErr
}

// WrapInternal wraps an error as an internal error
func WrapInternal(err error, code, message string) *TallyError {
	templErr := Wrap(err, ErrorTypeInternal, code, message)
	if templErr != nil {
		templErr.Recoverable = false
	}
	return templErr
}

// FormatError formats an error for user display
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	var te *TallyError
	if errors.As(err, &te) {
		return te.Error()
	}

	return err.Error()
}

// GetErrorContext extracts context information from a TallyError
func GetErrorContext(err error) map[string]interface{} {
	var te *TallyError
	if errors.As(err, &te) {
		context := make(map[string]interface{})
		for k, v := range te.Context {
			context[k] = v
		}
		if te.Component != "" {
			context["component"] = te.Component
		}
		context["type"] = string(te.Type)
		context["code"] = te.Code
		context["recoverable"] = te.Recoverable
		return context
	}

	return map[string]interface{}{
		"message": err.Error(),
		"type":    "unknown",
	}
}

// IsFatalError checks if an error is fatal and should stop execution
func IsFatalError(err error) bool {
	var te *TallyError
	if errors.As(err, &te) {
		return te.Type == ErrorTypeConfig || te.Type == ErrorTypeInternal
	}
	return false
}

// ExtractCause extracts the root cause from a wrapped error
func ExtractCause(err error) error {
	for err != nil {
		var te *TallyError
		if !errors.As(err, &te) {
			return err
		}
		if te.Cause == nil {
			return te
		}
		err = te.Cause
	}
	return nil
}

// CollectErrors helper for common error collection patterns
func CollectErrors(errs ...error) []error {
	var collected []error
	for _, err := range errs {
		if err != nil {
			collected = append(collected, err)
		}
	}
	return collected
}

// CombineErrors combines multiple errors into a single error with context
func CombineErrors(errs ...error) error {
	nonNilErrs := CollectErrors(errs...)
	if len(nonNilErrs) == 0 {
		return nil
	}
	if len(nonNilErrs) == 1 {
		return nonNilErrs[0]
	}

	var messages []string
	for _, err := range nonNilErrs {
		messages = append(messages, err.Error())
	}

	return &TallyError{
		Type:    ErrorTypeInternal,
		Code:    "ERR_MULTIPLE_ERRORS",
		Message: fmt.Sprintf("multiple errors occurred: %d errors", len(nonNilErrs)),
		Context: map[string]interface{}{
			"error_count": len(nonNilErrs),
			"errors":      messages,
		},
		Recoverable: false,
	}
}
