// Package errors provides structured error types for the datashed system.
// All errors include a kind, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies errors by the failure they report.
type Kind string

const (
	KindNotFound        Kind = "NOT_FOUND"
	KindAlreadyExists   Kind = "ALREADY_EXISTS"
	KindSchemaMismatch  Kind = "SCHEMA_MISMATCH"
	KindSchemaInference Kind = "SCHEMA_INFERENCE"
	KindType            Kind = "TYPE"
	KindInvalidLease    Kind = "INVALID_LEASE"
	KindServerStopped   Kind = "SERVER_STOPPED"
	KindCorrupt         Kind = "CORRUPT"
	KindIO              Kind = "IO"
	KindInternal        Kind = "INTERNAL"
)

// Error codes for each kind.
const (
	// Not-found codes
	CodeDatasetNotFound = "DATASET_NOT_FOUND"
	CodeChunkNotFound   = "CHUNK_NOT_FOUND"
	CodeTagNotFound     = "TAG_NOT_FOUND"
	CodeNotAWorkspace   = "NOT_A_WORKSPACE"

	// Already-exists codes
	CodeDatasetExists     = "DATASET_EXISTS"
	CodeWorkspaceNotEmpty = "WORKSPACE_NOT_EMPTY"
	CodeWorkspaceLocked   = "WORKSPACE_LOCKED"

	// Schema-mismatch codes
	CodeMissingColumn  = "MISSING_COLUMN"
	CodeExtraColumn    = "EXTRA_COLUMN"
	CodeKindMismatch   = "KIND_MISMATCH"
	CodeWidthMismatch  = "WIDTH_MISMATCH"
	CodeLayoutMismatch = "LAYOUT_MISMATCH"
	CodeSchemaChanged  = "SCHEMA_CHANGED"

	// Schema-inference codes
	CodeEmptyRow        = "EMPTY_ROW"
	CodeEmptyList       = "EMPTY_LIST"
	CodeMixedList       = "MIXED_LIST"
	CodeDuplicateColumn = "DUPLICATE_COLUMN"

	// Type codes
	CodeInvalidValue = "INVALID_VALUE"
	CodeTraceLength  = "TRACE_LENGTH"
	CodeBadIPCStream = "BAD_IPC_STREAM"

	// Lease codes
	CodeUnknownLease  = "UNKNOWN_LEASE"
	CodeLeaseConsumed = "LEASE_CONSUMED"

	// Server codes
	CodeStopped    = "STOPPED"
	CodeNotServing = "NOT_SERVING"

	// Corruption codes
	CodeChecksumMismatch = "CHECKSUM_MISMATCH"
	CodeChunkGap         = "CHUNK_GAP"
	CodeBadIPCFile       = "BAD_IPC_FILE"
	CodeBadSidecar       = "BAD_SIDECAR"
	CodeBadBackup        = "BAD_BACKUP"
	CodeVersionMismatch  = "VERSION_MISMATCH"

	// IO codes
	CodeReadFailed     = "READ_FAILED"
	CodeWriteFailed    = "WRITE_FAILED"
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// DatashedError is the structured error type used throughout the system.
type DatashedError struct {
	Kind      Kind
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *DatashedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *DatashedError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's kind and code.
func (e *DatashedError) Is(target error) bool {
	var t *DatashedError
	if errors.As(target, &t) {
		return e.Kind == t.Kind && e.Code == t.Code
	}
	return false
}

// New creates a new DatashedError.
func New(kind Kind, code, message string) *DatashedError {
	return &DatashedError{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(kind, code),
	}
}

// Wrap creates a new DatashedError wrapping an existing error.
func Wrap(kind Kind, code, message string, cause error) *DatashedError {
	return &DatashedError{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(kind, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DatashedError) WithDetails(details map[string]interface{}) *DatashedError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var de *DatashedError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// GetKind extracts the error kind from an error chain.
// Returns empty string if the error is not a DatashedError.
func GetKind(err error) Kind {
	var de *DatashedError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a DatashedError.
func GetCode(err error) string {
	var de *DatashedError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsKind reports whether the error chain contains a DatashedError of the kind.
func IsKind(err error, kind Kind) bool {
	return GetKind(err) == kind
}

func isRetryable(kind Kind, code string) bool {
	switch {
	case kind == KindIO && code == CodeUploadFailed:
		return true
	case kind == KindIO && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewNotFound(code, message string) *DatashedError {
	return New(KindNotFound, code, message)
}

func NewDatasetNotFound(uid string) *DatashedError {
	return New(KindNotFound, CodeDatasetNotFound, fmt.Sprintf("dataset %s not found", uid))
}

func NewAlreadyExists(code, message string) *DatashedError {
	return New(KindAlreadyExists, code, message)
}

func NewSchemaMismatch(code, message string) *DatashedError {
	return New(KindSchemaMismatch, code, message)
}

func NewSchemaInference(code, message string) *DatashedError {
	return New(KindSchemaInference, code, message)
}

func NewTypeError(code, message string) *DatashedError {
	return New(KindType, code, message)
}

func NewInvalidLease(message string) *DatashedError {
	return New(KindInvalidLease, CodeUnknownLease, message)
}

func NewServerStopped(message string) *DatashedError {
	return New(KindServerStopped, CodeStopped, message)
}

func NewCorrupt(code, message string, cause error) *DatashedError {
	return Wrap(KindCorrupt, code, message, cause)
}

func NewIOError(code, message string, cause error) *DatashedError {
	return Wrap(KindIO, code, message, cause)
}

func NewInternalError(message string, cause error) *DatashedError {
	return Wrap(KindInternal, CodeUnexpected, message, cause)
}
