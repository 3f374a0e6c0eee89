package errors

import (
	"fmt"
)

// PipelineError is the structured error type used across ingestion and query paths.
type PipelineError struct {
	// Code is the unique error code (e.g., "ERR_301_FETCH_TIMEOUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with PipelineError.
func (e *PipelineError) Is(target error) bool {
	if t, ok := target.(*PipelineError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *PipelineError) WithDetail(key, value string) *PipelineError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new PipelineError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string) *PipelineError {
	return newWithCause(code, message, nil)
}

// Wrap creates a PipelineError around an existing error. The cause's
// text is appended to the message and kept on the chain for Unwrap.
func Wrap(err error, code string, message string) *PipelineError {
	if err == nil {
		return nil
	}
	return newWithCause(code, fmt.Sprintf("%s: %v", message, err), err)
}

func newWithCause(code string, message string, cause error) *PipelineError {
	return &PipelineError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// TransientIO creates a retryable remote-fetch error.
func TransientIO(message string, cause error) *PipelineError {
	return newWithCause(ErrCodeFetchTimeout, message, cause)
}

// CorruptInput creates a non-retryable unreadable-document error.
func CorruptInput(message string, cause error) *PipelineError {
	return newWithCause(ErrCodeCorruptInput, message, cause)
}

// DimensionMismatch creates a vector dimension error, fatal for one file's batch.
func DimensionMismatch(expected, got int) *PipelineError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("dimension mismatch: expected %d, got %d", expected, got))
}

// IndexWrite creates an index write error, fatal for one file's ingestion.
func IndexWrite(message string, cause error) *PipelineError {
	return newWithCause(ErrCodeIndexWrite, message, cause)
}

// Capacity creates a storage-exhausted error, fatal to the entire pass.
func Capacity(message string, cause error) *PipelineError {
	return newWithCause(ErrCodeCapacity, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a PipelineError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := err.(*PipelineError); ok {
		return pe.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors abort the whole ingestion pass.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := err.(*PipelineError); ok {
		return pe.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a PipelineError.
// Returns empty string if not a PipelineError.
func GetCode(err error) string {
	if pe, ok := err.(*PipelineError); ok {
		return pe.Code
	}
	return ""
}
