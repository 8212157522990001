package models

import (
	"errors"
	"fmt"
)

// Error codes surfaced to API clients and queue consumers. Retryable codes
// mean the caller may re-submit the same unit of work; terminal codes mean
// the input itself is wrong and retrying cannot help.
const (
	CodeInvalidOperator   = "INVALID_OPERATOR"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeStorageConflict   = "STORAGE_CONFLICT"
	CodeDispatchFailure   = "DISPATCH_FAILURE"
	CodeNotFound          = "NOT_FOUND"
	CodeValidation        = "VALIDATION_ERROR"
	CodeBatchNotEvaluable = "BATCH_NOT_EVALUABLE"
)

// DomainError is a structured error with a stable code. It wraps an optional
// cause so errors.Is/As keep working through the usual %w chains.
type DomainError struct {
	Code      string
	Message   string
	Retryable bool
	cause     error
}

func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.cause
}

// Is matches two domain errors by code, so sentinel comparisons like
// errors.Is(err, ErrStorageConflict) work for any wrapped instance.
func (e *DomainError) Is(target error) bool {
	var de *DomainError
	if errors.As(target, &de) {
		return e.Code == de.Code
	}
	return false
}

// Sentinel instances for errors.Is checks.
var (
	ErrInvalidOperator   = &DomainError{Code: CodeInvalidOperator, Message: "unsupported comparison operator"}
	ErrInvalidTransition = &DomainError{Code: CodeInvalidTransition, Message: "illegal alert state transition"}
	ErrStorageConflict   = &DomainError{Code: CodeStorageConflict, Message: "conditional write lost a race", Retryable: true}
	ErrDispatchFailure   = &DomainError{Code: CodeDispatchFailure, Message: "dispatcher call failed", Retryable: true}
	ErrNotFound          = &DomainError{Code: CodeNotFound, Message: "entity not found"}
	ErrBatchNotEvaluable = &DomainError{Code: CodeBatchNotEvaluable, Message: "batch has no recorded outcomes"}
)

// NewValidationError reports a configuration-level inconsistency that fails
// the whole invocation (e.g. a deployment with no target devices).
func NewValidationError(format string, args ...interface{}) *DomainError {
	return &DomainError{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// WrapDomain attaches a cause to a sentinel, preserving its code and
// retryability.
func WrapDomain(sentinel *DomainError, cause error) *DomainError {
	return &DomainError{
		Code:      sentinel.Code,
		Message:   sentinel.Message,
		Retryable: sentinel.Retryable,
		cause:     cause,
	}
}
