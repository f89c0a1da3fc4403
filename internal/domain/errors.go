package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrPathTraversal   = fmt.Errorf("path escapes workspace root")
	ErrNotFound        = fmt.Errorf("not found")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrSafetyBlock     = fmt.Errorf("blocked by safety policy")
	ErrUnavailable     = fmt.Errorf("unavailable")
	ErrUpstream        = fmt.Errorf("upstream request failed")
	ErrPartialFailure  = fmt.Errorf("some commands failed")
	ErrLocked          = fmt.Errorf("path locked by another agent")
	ErrToolNotFound    = fmt.Errorf("tool not found")
	ErrConfirmRequired = fmt.Errorf("explicit confirmation required")
	ErrTimeout         = fmt.Errorf("operation timed out")
	ErrSSRFBlocked     = fmt.Errorf("request to private/reserved IP blocked")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "FilesTool.patch")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown         ErrorCode = "UNKNOWN"
	CodePathTraversal   ErrorCode = "PATH_TRAVERSAL"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	CodeSafetyBlock     ErrorCode = "SAFETY_BLOCK"
	CodeUnavailable     ErrorCode = "UNAVAILABLE"
	CodeUpstream        ErrorCode = "UPSTREAM"
	CodePartialFailure  ErrorCode = "PARTIAL_FAILURE"
	CodeLocked          ErrorCode = "LOCKED"
	CodeToolNotFound    ErrorCode = "TOOL_NOT_FOUND"
	CodeConfirmRequired ErrorCode = "CONFIRM_REQUIRED"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeSSRFBlocked     ErrorCode = "SSRF_BLOCKED"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrPathTraversal:   CodePathTraversal,
	ErrNotFound:        CodeNotFound,
	ErrInvalidArgument: CodeInvalidArgument,
	ErrSafetyBlock:     CodeSafetyBlock,
	ErrUnavailable:     CodeUnavailable,
	ErrUpstream:        CodeUpstream,
	ErrPartialFailure:  CodePartialFailure,
	ErrLocked:          CodeLocked,
	ErrToolNotFound:    CodeToolNotFound,
	ErrConfirmRequired: CodeConfirmRequired,
	ErrTimeout:         CodeTimeout,
	ErrSSRFBlocked:     CodeSSRFBlocked,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
