// Package errors provides structured error types for the record layer.
// All errors carry a category, code, message, and retryable flag so callers can
// branch on the failure class without string matching.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryMetadata   ErrorCategory = "METADATA"
	ErrCategoryEvolution  ErrorCategory = "EVOLUTION"
	ErrCategoryStatistics ErrorCategory = "STATISTICS"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes.
const (
	CodeInvalidArgument           = "INVALID_ARGUMENT"
	CodeNotFound                  = "NOT_FOUND"
	CodeDuplicateRecordType       = "DUPLICATE_RECORD_TYPE"
	CodeIndexNotReady             = "INDEX_NOT_READY"
	CodeEvolutionValidationFailed = "EVOLUTION_VALIDATION_FAILED"
	CodeVersionDecreased          = "VERSION_DECREASED"
	CodeStorageFailure            = "STORAGE_FAILURE"
	CodeUnexpected                = "UNEXPECTED"
)

// Sentinels for errors.Is matching by code. Category is ignored when the
// target has an empty category.
var (
	ErrInvalidArgument           = &RecordLayerError{Code: CodeInvalidArgument}
	ErrNotFound                  = &RecordLayerError{Code: CodeNotFound}
	ErrDuplicateRecordType       = &RecordLayerError{Code: CodeDuplicateRecordType}
	ErrIndexNotReady             = &RecordLayerError{Code: CodeIndexNotReady}
	ErrEvolutionValidationFailed = &RecordLayerError{Code: CodeEvolutionValidationFailed}
	ErrVersionDecreased          = &RecordLayerError{Code: CodeVersionDecreased}
	ErrInternal                  = &RecordLayerError{Code: CodeUnexpected}
)

// RecordLayerError is the structured error type used throughout the system.
type RecordLayerError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *RecordLayerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *RecordLayerError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's code, and its category
// when the target names one.
func (e *RecordLayerError) Is(target error) bool {
	var t *RecordLayerError
	if errors.As(target, &t) {
		if t.Category != "" && t.Category != e.Category {
			return false
		}
		return e.Code == t.Code
	}
	return false
}

// New creates a new RecordLayerError.
func New(category ErrorCategory, code, message string) *RecordLayerError {
	return &RecordLayerError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new RecordLayerError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *RecordLayerError {
	return &RecordLayerError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *RecordLayerError) WithDetails(details map[string]interface{}) *RecordLayerError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var re *RecordLayerError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a RecordLayerError.
func GetCategory(err error) ErrorCategory {
	var re *RecordLayerError
	if errors.As(err, &re) {
		return re.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a RecordLayerError.
func GetCode(err error) string {
	var re *RecordLayerError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// Only transient storage failures are worth retrying; everything else is a
// property of the input.
func isRetryable(category ErrorCategory, code string) bool {
	return category == ErrCategoryStorage && code == CodeStorageFailure
}

// Convenience constructors for common errors.

func NewInvalidArgument(format string, args ...interface{}) *RecordLayerError {
	return New(ErrCategoryValidation, CodeInvalidArgument, fmt.Sprintf(format, args...))
}

func NewNotFound(kind, name string) *RecordLayerError {
	return New(ErrCategoryMetadata, CodeNotFound, fmt.Sprintf("%s %q not found", kind, name)).
		WithDetails(map[string]interface{}{"kind": kind, "name": name})
}

func NewDuplicateRecordType(name string) *RecordLayerError {
	return New(ErrCategoryMetadata, CodeDuplicateRecordType, fmt.Sprintf("record type %q defined more than once", name)).
		WithDetails(map[string]interface{}{"name": name})
}

func NewIndexNotReady(category ErrorCategory, index, state string) *RecordLayerError {
	return New(category, CodeIndexNotReady, fmt.Sprintf("index %q is not readable (state %s)", index, state)).
		WithDetails(map[string]interface{}{"index": index, "state": state})
}

func NewStorageError(message string, cause error) *RecordLayerError {
	return Wrap(ErrCategoryStorage, CodeStorageFailure, message, cause)
}

func NewInternalError(message string, cause error) *RecordLayerError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
