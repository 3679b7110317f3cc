// Package kerrors defines coded errors for all failure modes of the
// ingestion pipeline and the impact analyzer.
package kerrors

import (
	"errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// PreprocessFailed indicates the external C preprocessor exited non-zero
	PreprocessFailed ErrorCode = "PREPROCESS_FAILED"
	// PreprocessTimeout indicates the per-file preprocessing deadline expired
	PreprocessTimeout ErrorCode = "PREPROCESS_TIMEOUT"
	// ParseDegraded indicates tree-sitter produced a partial tree
	ParseDegraded ErrorCode = "PARSE_DEGRADED"
	// SubsystemInvalid indicates the subsystem path does not exist or holds no sources
	SubsystemInvalid ErrorCode = "SUBSYSTEM_INVALID"
	// FunctionNotFound indicates the query target is not in the graph
	FunctionNotFound ErrorCode = "FUNCTION_NOT_FOUND"
	// FunctionAmbiguous indicates a name query matched multiple functions
	FunctionAmbiguous ErrorCode = "FUNCTION_AMBIGUOUS"
	// StoreError indicates a graph-store read or write failed
	StoreError ErrorCode = "STORE_ERROR"
	// ConfigInvalid indicates the configuration failed validation
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// InternalError indicates an unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// KError represents a kimpact error with a stable code and optional cause
type KError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error
}

// New creates a new KError
func New(code ErrorCode, message string, cause error) *KError {
	return &KError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Error implements the error interface
func (e *KError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *KError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *KError) WithDetails(details interface{}) *KError {
	e.Details = details
	return e
}

// CodeOf extracts the ErrorCode from an error chain, or InternalError
func CodeOf(err error) ErrorCode {
	var ke *KError
	if errors.As(err, &ke) {
		return ke.Code
	}
	return InternalError
}

// IsCode reports whether the error chain carries the given code
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
