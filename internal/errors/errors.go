// Package errors provides structured error types for churnfeat.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across pipeline stages.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline concern.
type ErrorCategory string

const (
	ErrCategorySchema   ErrorCategory = "SCHEMA"
	ErrCategoryData     ErrorCategory = "DATA"
	ErrCategoryPlan     ErrorCategory = "PLAN"
	ErrCategoryIngest   ErrorCategory = "INGEST"
	ErrCategoryStorage  ErrorCategory = "STORAGE"
	ErrCategoryConfig   ErrorCategory = "CONFIG"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Schema codes
	CodeMissingColumn   = "MISSING_COLUMN"
	CodeDropSetMismatch = "DROP_SET_MISMATCH"

	// Data codes
	CodeEmptyDataset = "EMPTY_DATASET"

	// Plan codes
	CodeEncodingGap      = "ENCODING_GAP"
	CodeColumnMismatch   = "COLUMN_MISMATCH"
	CodeUnsupportedModel = "UNSUPPORTED_MODEL"

	// Ingest codes
	CodeMalformedRecord = "MALFORMED_RECORD"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeArtifactExists = "ARTIFACT_EXISTS"

	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// FeatureError is the structured error type used throughout the system.
type FeatureError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *FeatureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *FeatureError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *FeatureError) Is(target error) bool {
	var t *FeatureError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new FeatureError.
func New(category ErrorCategory, code, message string) *FeatureError {
	return &FeatureError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new FeatureError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *FeatureError {
	return &FeatureError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *FeatureError) WithDetails(details map[string]interface{}) *FeatureError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var fe *FeatureError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a FeatureError.
func GetCategory(err error) ErrorCategory {
	var fe *FeatureError
	if errors.As(err, &fe) {
		return fe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a FeatureError.
func GetCode(err error) string {
	var fe *FeatureError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// GetDetails extracts the details map from an error chain.
func GetDetails(err error) map[string]interface{} {
	var fe *FeatureError
	if errors.As(err, &fe) {
		return fe.Details
	}
	return nil
}

// isRetryable reports which codes describe transient storage failures.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Sentinels for errors.Is matching on category and code.
var (
	ErrSchema          = New(ErrCategorySchema, CodeMissingColumn, "")
	ErrDropSetMismatch = New(ErrCategorySchema, CodeDropSetMismatch, "")
	ErrEmptyDataset    = New(ErrCategoryData, CodeEmptyDataset, "")
	ErrEncodingGap     = New(ErrCategoryPlan, CodeEncodingGap, "")
	ErrColumnMismatch  = New(ErrCategoryPlan, CodeColumnMismatch, "")
)

// Convenience constructors for common errors.

func NewSchemaError(message string) *FeatureError {
	return New(ErrCategorySchema, CodeMissingColumn, message)
}

func NewDropSetMismatchError(message string) *FeatureError {
	return New(ErrCategorySchema, CodeDropSetMismatch, message)
}

func NewEmptyDatasetError(message string) *FeatureError {
	return New(ErrCategoryData, CodeEmptyDataset, message)
}

func NewPlanError(code, message string) *FeatureError {
	return New(ErrCategoryPlan, code, message)
}

func NewIngestError(code, message string, cause error) *FeatureError {
	return Wrap(ErrCategoryIngest, code, message, cause)
}

func NewStorageError(code, message string, cause error) *FeatureError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewConfigError(message string, cause error) *FeatureError {
	return Wrap(ErrCategoryConfig, CodeInvalidConfig, message, cause)
}

func NewInternalError(message string, cause error) *FeatureError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
